package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/evaluator"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/registry"
)

// minWindowCandles is the smallest slice worth backtesting; windows below
// it are skipped rather than producing noise.
const minWindowCandles = 30

// WalkForwardRunner produces the in-sample/out-of-sample window results the
// walk-forward stage consumes. Tests substitute stubs.
type WalkForwardRunner interface {
	Windows(ctx context.Context, version *registry.Version, market domain.MarketConfig, k int) ([]WindowResult, error)
}

// ExecutorWindowRunner slices cached market data into K consecutive windows
// and re-runs the external executor on each window's in-sample and
// out-of-sample segment.
type ExecutorWindowRunner struct {
	cache      *marketdata.Cache
	exec       evaluator.Executor
	stageDir   string
	inFraction float64
	timeout    time.Duration
	log        zerolog.Logger
}

// NewExecutorWindowRunner creates a runner staging window data under
// stageDir. inFraction is the in-sample share of each window.
func NewExecutorWindowRunner(cache *marketdata.Cache, exec evaluator.Executor, stageDir string, inFraction float64, timeout time.Duration, log zerolog.Logger) *ExecutorWindowRunner {
	if inFraction <= 0 || inFraction >= 1 {
		inFraction = 0.7
	}
	return &ExecutorWindowRunner{
		cache:      cache,
		exec:       exec,
		stageDir:   stageDir,
		inFraction: inFraction,
		timeout:    timeout,
		log:        log.With().Str("component", "walkforward").Logger(),
	}
}

// Windows splits the market's series into k consecutive windows and runs
// the candidate on each window's two segments.
func (r *ExecutorWindowRunner) Windows(ctx context.Context, version *registry.Version, market domain.MarketConfig, k int) ([]WindowResult, error) {
	series, err := r.cache.Get(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("market data unavailable for walk-forward: %w", err)
	}

	total := len(series.Candles)
	winSize := total / k
	if winSize < minWindowCandles {
		return nil, fmt.Errorf("series too short for %d windows: %d candles", k, total)
	}

	results := make([]WindowResult, 0, k)
	for i := 0; i < k; i++ {
		start := i * winSize
		split := start + int(float64(winSize)*r.inFraction)
		end := start + winSize

		isReturn, err := r.segmentReturn(ctx, version, market, series, start, split, fmt.Sprintf("w%d-is", i))
		if err != nil {
			r.log.Warn().Err(err).Str("market", market.Key()).Int("window", i).Msg("in-sample segment failed")
			continue
		}
		oosReturn, err := r.segmentReturn(ctx, version, market, series, split, end, fmt.Sprintf("w%d-oos", i))
		if err != nil {
			r.log.Warn().Err(err).Str("market", market.Key()).Int("window", i).Msg("out-of-sample segment failed")
			continue
		}

		results = append(results, WindowResult{
			Market:            market.Key(),
			InSampleReturn:    isReturn,
			OutOfSampleReturn: oosReturn,
		})
	}
	return results, nil
}

// segmentReturn backtests one slice of the series and returns its total
// return.
func (r *ExecutorWindowRunner) segmentReturn(ctx context.Context, version *registry.Version, market domain.MarketConfig, series *marketdata.Series, from, to int, label string) (float64, error) {
	slice := series.Slice(from, to)
	if len(slice.Candles) < minWindowCandles/2 {
		return 0, fmt.Errorf("segment %s too short: %d candles", label, len(slice.Candles))
	}

	dir := filepath.Join(r.stageDir, "walkforward", version.ID, market.Key(), label)
	dataPath, err := slice.WriteCSV(dir)
	if err != nil {
		return 0, err
	}

	result, err := r.exec.Run(ctx, evaluator.ExecRequest{
		CandidateID: fmt.Sprintf("%s-%s", version.ID, label),
		Source:      version.Source,
		Parameters:  version.Parameters,
		DataPath:    dataPath,
		Market:      market,
		Timeout:     r.timeout,
	})
	if err != nil {
		return 0, err
	}
	return result.Record.TotalReturn, nil
}
