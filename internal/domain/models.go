// Package domain contains the core value types shared by every component:
// genomes, market configurations, and evaluation metrics. The domain layer is
// pure - no infrastructure dependencies.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// Genome is a candidate trading-signal program plus tunable parameters and
// lineage. Fitness is the only mutable field; it is updated as evaluation
// results are recorded.
type Genome struct {
	ID          string
	Name        string
	Description string
	Source      string
	Parameters  map[string]float64
	Generation  int
	ParentIDs   []string
	Fitness     float64
}

// Clone returns a deep copy of the genome. Parameter and lineage slices are
// copied so mutations on the clone never alias the original.
func (g Genome) Clone() Genome {
	params := make(map[string]float64, len(g.Parameters))
	for k, v := range g.Parameters {
		params[k] = v
	}
	parents := make([]string, len(g.ParentIDs))
	copy(parents, g.ParentIDs)

	clone := g
	clone.Parameters = params
	clone.ParentIDs = parents
	return clone
}

// MarketType classifies the asset class of a market configuration.
type MarketType string

const (
	MarketCrypto MarketType = "crypto"
	MarketForex  MarketType = "forex"
	MarketEquity MarketType = "equity"
)

// VolatilityRegime tags the typical volatility environment of a market.
type VolatilityRegime string

const (
	VolatilityLow    VolatilityRegime = "low"
	VolatilityMedium VolatilityRegime = "medium"
	VolatilityHigh   VolatilityRegime = "high"
)

// TrendRegime tags the dominant price behaviour of a market.
type TrendRegime string

const (
	TrendTrending TrendRegime = "trending"
	TrendRanging  TrendRegime = "ranging"
	TrendMixed    TrendRegime = "mixed"
)

// MarketConfig describes one market a candidate can be evaluated against.
// Configs are immutable and drawn from the static universe in markets.go.
type MarketConfig struct {
	Symbol        string
	Timeframe     string
	Type          MarketType
	Volatility    VolatilityRegime
	Trend         TrendRegime
	LookbackDays  int
	MinDataPoints int
}

// Key returns the cache/lookup key for this market: "SYMBOL@TIMEFRAME".
func (m MarketConfig) Key() string {
	return m.Symbol + "@" + m.Timeframe
}

// MetricsRecord is the result of evaluating one candidate version against one
// market. Records are append-only; they are validated once at the evaluator
// boundary and carried by value afterwards.
type MetricsRecord struct {
	ID          string
	GenomeID    string
	VersionID   string
	Market      string
	Timeframe   string
	WindowStart time.Time
	WindowEnd   time.Time

	TotalReturn  float64 // Fractional return over the window (0.10 = +10%)
	SharpeRatio  float64
	MaxDrawdown  float64 // Positive fraction (0.25 = 25% drawdown)
	WinRate      float64 // [0, 1]
	ProfitFactor float64
	NumTrades    int
	TotalPnL     float64

	// Execution-quality estimates
	AvgSlippage  float64 // Fractional slippage per trade
	AvgLatencyMs float64

	// Consistency of returns across sub-windows, [0, 1]
	Consistency float64
}

// Validate checks that a record is structurally sound before it enters
// aggregation or the registry.
func (r MetricsRecord) Validate() error {
	if r.Market == "" {
		return fmt.Errorf("metrics record missing market")
	}
	if r.NumTrades < 0 {
		return fmt.Errorf("metrics record for %s has negative trade count: %d", r.Market, r.NumTrades)
	}
	if r.WinRate < 0 || r.WinRate > 1 {
		return fmt.Errorf("metrics record for %s has win rate outside [0,1]: %f", r.Market, r.WinRate)
	}
	if r.MaxDrawdown < 0 {
		return fmt.Errorf("metrics record for %s has negative drawdown: %f", r.Market, r.MaxDrawdown)
	}
	return nil
}

// AggregatedMetrics combines the per-market records of one candidate version.
//
// Invariants:
//   - MarketsTested is the deduplicated union of contributing records' markets
//   - NumTrades and TotalPnL sum exactly over contributing records
type AggregatedMetrics struct {
	GenomeID  string
	VersionID string

	MarketsTested []string
	Timeframes    []string
	FailedMarkets []string

	TotalReturn  float64
	SharpeRatio  float64
	MaxDrawdown  float64
	WinRate      float64
	ProfitFactor float64
	NumTrades    int
	TotalPnL     float64
	AvgSlippage  float64
	AvgLatencyMs float64
	Consistency  float64
}

// TradesPerMarket returns the average trade count per contributing market.
func (a AggregatedMetrics) TradesPerMarket() float64 {
	if len(a.MarketsTested) == 0 {
		return 0
	}
	return float64(a.NumTrades) / float64(len(a.MarketsTested))
}

// Aggregate reduces a set of per-market records into one AggregatedMetrics.
//
// The reduction is commutative and order-independent: rate-style metrics
// (return, Sharpe, win rate, drawdown, profit factor, consistency) are
// averaged weighted by absolute PnL, additive metrics (trade count, total
// PnL) are summed exactly, and market/timeframe sets are unioned and sorted.
// When every record carries zero PnL the rate metrics fall back to equal
// weights so a flat candidate still aggregates.
func Aggregate(genomeID, versionID string, records []MetricsRecord) AggregatedMetrics {
	agg := AggregatedMetrics{
		GenomeID:  genomeID,
		VersionID: versionID,
	}
	if len(records) == 0 {
		return agg
	}

	markets := make(map[string]bool)
	timeframes := make(map[string]bool)

	totalWeight := 0.0
	for _, r := range records {
		totalWeight += absPnLWeight(r)
	}
	equalWeights := totalWeight == 0

	for _, r := range records {
		markets[r.Market] = true
		if r.Timeframe != "" {
			timeframes[r.Timeframe] = true
		}

		// Additive metrics sum exactly
		agg.NumTrades += r.NumTrades
		agg.TotalPnL += r.TotalPnL

		var w float64
		if equalWeights {
			w = 1.0 / float64(len(records))
		} else {
			w = absPnLWeight(r) / totalWeight
		}

		agg.TotalReturn += r.TotalReturn * w
		agg.SharpeRatio += r.SharpeRatio * w
		agg.MaxDrawdown += r.MaxDrawdown * w
		agg.WinRate += r.WinRate * w
		agg.ProfitFactor += r.ProfitFactor * w
		agg.Consistency += r.Consistency * w

		// Execution-quality estimates use a plain mean
		agg.AvgSlippage += r.AvgSlippage / float64(len(records))
		agg.AvgLatencyMs += r.AvgLatencyMs / float64(len(records))
	}

	agg.MarketsTested = sortedKeys(markets)
	agg.Timeframes = sortedKeys(timeframes)
	return agg
}

// absPnLWeight is the weighting basis for rate-style metrics.
func absPnLWeight(r MetricsRecord) float64 {
	if r.TotalPnL < 0 {
		return -r.TotalPnL
	}
	return r.TotalPnL
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
