// Package evaluator runs candidate versions against market configurations
// under a bounded worker budget and aggregates the results.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/domain"
)

// ExecRequest describes one out-of-process backtest invocation.
type ExecRequest struct {
	CandidateID string // version id, used for working-directory naming
	Source      string
	Parameters  map[string]float64
	DataPath    string
	Market      domain.MarketConfig
	Timeout     time.Duration
}

// ExecResult is the parsed outcome of one backtest run.
type ExecResult struct {
	Record domain.MetricsRecord
	// Estimated is true when the executor exited cleanly but produced no
	// parseable output, and the record is a conservative estimate.
	Estimated bool
}

// Executor abstracts the external backtest process. Tests substitute stubs.
type Executor interface {
	Run(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// executorOutput mirrors the metrics.json file the backtest binary writes.
type executorOutput struct {
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	NumTrades    int     `json:"num_trades"`
	TotalPnL     float64 `json:"total_pnl"`
	AvgSlippage  float64 `json:"avg_slippage"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Consistency  float64 `json:"consistency"`
	WindowStart  int64   `json:"window_start"`
	WindowEnd    int64   `json:"window_end"`
}

// ProcessExecutor invokes the external backtest binary. A nonzero exit or
// malformed output is a single-market failure, never fatal to a batch.
type ProcessExecutor struct {
	binary  string
	workDir string
	log     zerolog.Logger
}

// NewProcessExecutor creates an executor around the given binary, staging
// candidate files under workDir.
func NewProcessExecutor(binary, workDir string, log zerolog.Logger) *ProcessExecutor {
	return &ProcessExecutor{
		binary:  binary,
		workDir: workDir,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Run stages the candidate, invokes the backtest binary and parses its
// output directory.
func (e *ProcessExecutor) Run(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	outDir := filepath.Join(e.workDir, req.CandidateID, req.Market.Key())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	strategyPath := filepath.Join(outDir, "strategy.py")
	if err := os.WriteFile(strategyPath, []byte(req.Source), 0644); err != nil {
		return nil, fmt.Errorf("failed to stage candidate source: %w", err)
	}

	paramsJSON, err := json.Marshal(req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize parameter overrides: %w", err)
	}
	paramsPath := filepath.Join(outDir, "params.json")
	if err := os.WriteFile(paramsPath, paramsJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage parameters: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, e.binary,
		"--strategy", strategyPath,
		"--data", req.DataPath,
		"--params", paramsPath,
		"--out", outDir,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := stderr.String()
		if len(diag) > 512 {
			diag = diag[:512]
		}
		return nil, fmt.Errorf("backtest failed for %s: %w (%s)", req.Market.Key(), err, diag)
	}

	record, estimated := e.parseOutput(outDir, req)
	return &ExecResult{Record: record, Estimated: estimated}, nil
}

// parseOutput reads metrics.json from the output directory. When the file is
// missing or unreadable despite a clean exit, a conservative estimate is
// derived instead: flat performance, zero trades, moderate drawdown.
func (e *ProcessExecutor) parseOutput(outDir string, req ExecRequest) (domain.MetricsRecord, bool) {
	base := domain.MetricsRecord{
		Market:    req.Market.Key(),
		Timeframe: req.Market.Timeframe,
	}

	data, err := os.ReadFile(filepath.Join(outDir, "metrics.json"))
	if err != nil {
		e.log.Warn().Str("market", req.Market.Key()).Msg("executor produced no metrics output, deriving conservative estimate")
		return conservativeEstimate(base), true
	}

	var out executorOutput
	if err := json.Unmarshal(data, &out); err != nil {
		e.log.Warn().Err(err).Str("market", req.Market.Key()).Msg("malformed metrics output, deriving conservative estimate")
		return conservativeEstimate(base), true
	}

	base.TotalReturn = out.TotalReturn
	base.SharpeRatio = out.SharpeRatio
	base.MaxDrawdown = out.MaxDrawdown
	base.WinRate = out.WinRate
	base.ProfitFactor = out.ProfitFactor
	base.NumTrades = out.NumTrades
	base.TotalPnL = out.TotalPnL
	base.AvgSlippage = out.AvgSlippage
	base.AvgLatencyMs = out.AvgLatencyMs
	base.Consistency = out.Consistency
	if out.WindowStart > 0 {
		base.WindowStart = time.Unix(out.WindowStart, 0)
	}
	if out.WindowEnd > 0 {
		base.WindowEnd = time.Unix(out.WindowEnd, 0)
	}
	return base, false
}

// conservativeEstimate assumes the candidate did nothing useful: flat
// return, no edge, no trades. Zero trades means the record can never pass
// the minimum-trades hard threshold, which is the safe direction to err.
func conservativeEstimate(base domain.MetricsRecord) domain.MetricsRecord {
	base.TotalReturn = 0
	base.SharpeRatio = 0
	base.MaxDrawdown = 0.2
	base.WinRate = 0.4
	base.ProfitFactor = 0.8
	base.NumTrades = 0
	base.TotalPnL = 0
	base.Consistency = 0.3
	return base
}
