package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quantlab/alphaevolve/internal/clients/gemini"
	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/evaluator"
	"github.com/quantlab/alphaevolve/internal/gate"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/registry"
)

// StubExecutor satisfies evaluator.Executor with a fixed record per market.
// Markets listed in Fail produce an error; everything else succeeds.
type StubExecutor struct {
	Record domain.MetricsRecord
	Fail   map[string]bool

	mu    sync.Mutex
	calls []string
}

// Run returns the configured record stamped with the request's market.
func (s *StubExecutor) Run(_ context.Context, req evaluator.ExecRequest) (*evaluator.ExecResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Market.Key())
	s.mu.Unlock()

	if s.Fail[req.Market.Key()] {
		return nil, fmt.Errorf("stubbed failure for %s", req.Market.Key())
	}

	rec := s.Record
	rec.Market = req.Market.Key()
	rec.Timeframe = req.Market.Timeframe
	return &evaluator.ExecResult{Record: rec}, nil
}

// Calls returns the market keys Run was invoked with, in call order.
func (s *StubExecutor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// StubGenerator satisfies mutation.Generator. When Err is set every call
// fails; otherwise Text is returned verbatim.
type StubGenerator struct {
	Text  string
	Err   error
	Calls atomic.Int64
}

// Generate returns the canned response or error.
func (s *StubGenerator) Generate(_ context.Context, _, _ string, _ gemini.SamplingParams) (*gemini.Result, error) {
	s.Calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return &gemini.Result{Text: s.Text}, nil
}

// StubFetcher satisfies marketdata.Fetcher with synthetic series.
type StubFetcher struct {
	Candles int
	Err     error
	Fetches atomic.Int64
}

// Fetch returns a synthetic series sized to the market's needs.
func (s *StubFetcher) Fetch(_ context.Context, market domain.MarketConfig) (*marketdata.Series, error) {
	s.Fetches.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	n := s.Candles
	if n == 0 {
		n = market.MinDataPoints + 100
	}
	return NewSeriesFixture(market.Symbol, market.Timeframe, n), nil
}

// StubWindowRunner satisfies gate.WalkForwardRunner with fixed windows.
type StubWindowRunner struct {
	Results []gate.WindowResult
	Err     error
}

// Windows returns the canned window results for every market.
func (s *StubWindowRunner) Windows(_ context.Context, _ *registry.Version, market domain.MarketConfig, _ int) ([]gate.WindowResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]gate.WindowResult, len(s.Results))
	for i, w := range s.Results {
		w.Market = market.Key()
		out[i] = w
	}
	return out, nil
}
