package scoring

import (
	"fmt"
	"math"

	"github.com/quantlab/alphaevolve/internal/domain"
)

// Score maps aggregated metrics to one composite fitness value in [0, 1].
//
// Each "higher is better" metric is normalized against its profile target
// and clamped to [0, 1], so the score is monotonic in every such metric
// below its cap. Drawdown is "lower is better" and inverted against the
// profile pivot: 1 − drawdown/pivot, floored at 0.
func Score(m domain.AggregatedMetrics, p *Profile) float64 {
	return composite(p,
		m.TotalReturn, m.SharpeRatio, m.MaxDrawdown,
		m.WinRate, m.ProfitFactor, m.Consistency)
}

// ScoreRecord scores one per-market metrics record on the same scale as
// Score. The evaluator uses the method value as its record scorer, so the
// fitness stored next to each record is directly comparable with the
// aggregate.
func (p *Profile) ScoreRecord(rec domain.MetricsRecord) float64 {
	return composite(p,
		rec.TotalReturn, rec.SharpeRatio, rec.MaxDrawdown,
		rec.WinRate, rec.ProfitFactor, rec.Consistency)
}

func composite(p *Profile, totalReturn, sharpe, drawdown, winRate, profitFactor, consistency float64) float64 {
	t := p.Thresholds
	w := p.Weights

	score := w.Return*normalize(totalReturn, t.TargetReturn) +
		w.Sharpe*normalize(sharpe, t.TargetSharpe) +
		w.Drawdown*invert(drawdown, t.MaxDrawdown) +
		w.WinRate*normalize(winRate, t.TargetWinRate) +
		w.ProfitFactor*normalize(profitFactor, t.TargetProfitFactor) +
		w.Consistency*clamp01(consistency)

	return clamp01(score)
}

// normalize maps value/target into [0, 1]. Negative values score 0; a value
// at or above the target scores 1.
func normalize(value, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return clamp01(value / target)
}

// invert scores a "lower is better" metric: 0 at or beyond the pivot, 1 at
// zero.
func invert(value, pivot float64) float64 {
	if pivot <= 0 {
		return 0
	}
	return clamp01(1 - value/pivot)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// IsDeploymentReady applies the profile's hard gates on top of the composite
// score. Every gate is checked independently; a high weighted score never
// compensates for a failed gate. The returned reasons name every failed
// gate so nothing is silently dropped from the audit trail.
func IsDeploymentReady(score float64, m domain.AggregatedMetrics, p *Profile) (bool, []string) {
	t := p.Thresholds
	var reasons []string

	if score < t.MinCompositeScore {
		reasons = append(reasons, fmt.Sprintf("composite score %.3f below minimum %.3f", score, t.MinCompositeScore))
	}
	if len(m.MarketsTested) < t.MinMarketsTested {
		reasons = append(reasons, fmt.Sprintf("tested on %d markets, minimum is %d", len(m.MarketsTested), t.MinMarketsTested))
	}
	if tpm := m.TradesPerMarket(); tpm < t.MinTradesPerMarket {
		reasons = append(reasons, fmt.Sprintf("%.1f trades per market, minimum is %.1f", tpm, t.MinTradesPerMarket))
	}
	if m.AvgSlippage > t.MaxSlippage {
		reasons = append(reasons, fmt.Sprintf("average slippage %.5f exceeds maximum %.5f", m.AvgSlippage, t.MaxSlippage))
	}
	if m.AvgLatencyMs > t.MaxLatencyMs {
		reasons = append(reasons, fmt.Sprintf("average latency %.1fms exceeds maximum %.1fms", m.AvgLatencyMs, t.MaxLatencyMs))
	}

	return len(reasons) == 0, reasons
}
