// Package scoring turns evaluation metrics into one comparable fitness value
// under a named, validated weighting profile, and enforces the hard
// deployment thresholds a weighted score can never override.
package scoring

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// WeightSumTolerance is the allowed deviation of the weight sum from 1.0.
// A profile outside this band is a configuration error and fails fast at
// construction rather than producing silently skewed scores.
const WeightSumTolerance = 0.05

// Weights assigns one fraction of the composite score to each criterion.
// The sum must be 1.0 within WeightSumTolerance.
type Weights struct {
	Return       float64 `yaml:"return"`
	Sharpe       float64 `yaml:"sharpe"`
	Drawdown     float64 `yaml:"drawdown"`
	WinRate      float64 `yaml:"win_rate"`
	ProfitFactor float64 `yaml:"profit_factor"`
	Consistency  float64 `yaml:"consistency"`
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Return + w.Sharpe + w.Drawdown + w.WinRate + w.ProfitFactor + w.Consistency
}

// Thresholds holds the normalization targets and the hard deployment limits.
//
// The Target* values define the expected range for each "higher is better"
// metric: a metric at or above its target normalizes to 1.0. MaxDrawdown is
// the "lower is better" pivot: a drawdown at the pivot scores 0. The Min*/
// Max* values below it are hard gates checked independently of the weighted
// score.
type Thresholds struct {
	TargetReturn       float64 `yaml:"target_return"`
	TargetSharpe       float64 `yaml:"target_sharpe"`
	MaxDrawdown        float64 `yaml:"max_drawdown"`
	TargetWinRate      float64 `yaml:"target_win_rate"`
	TargetProfitFactor float64 `yaml:"target_profit_factor"`

	MinTradesPerMarket float64 `yaml:"min_trades_per_market"`
	MinMarketsTested   int     `yaml:"min_markets_tested"`
	MaxSlippage        float64 `yaml:"max_slippage"`
	MaxLatencyMs       float64 `yaml:"max_latency_ms"`
	MinCompositeScore  float64 `yaml:"min_composite_score"`
}

// Profile is a named, immutable weighting configuration. Construct through
// NewProfile or a preset; a zero Profile is not valid.
type Profile struct {
	Name       string     `yaml:"name"`
	Tier       string     `yaml:"tier"`
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// NewProfile validates and returns a profile. Weights that do not sum to
// 1.0 within tolerance, or non-positive normalization targets, are rejected.
func NewProfile(name, tier string, w Weights, t Thresholds) (*Profile, error) {
	p := &Profile{Name: name, Tier: tier, Weights: w, Thresholds: t}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the weight-sum invariant and the normalization targets.
func (p *Profile) Validate() error {
	sum := p.Weights.Sum()
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("profile %q: weights sum to %.4f, expected 1.0 ± %.2f", p.Name, sum, WeightSumTolerance)
	}

	t := p.Thresholds
	if t.TargetReturn <= 0 || t.TargetSharpe <= 0 || t.TargetWinRate <= 0 || t.TargetProfitFactor <= 0 {
		return fmt.Errorf("profile %q: normalization targets must be positive", p.Name)
	}
	if t.MaxDrawdown <= 0 {
		return fmt.Errorf("profile %q: max drawdown pivot must be positive", p.Name)
	}
	return nil
}

// Preset names.
const (
	PresetConservative = "conservative"
	PresetBalanced     = "balanced"
	PresetAggressive   = "aggressive"

	TierDemo       = "demo"
	TierProduction = "production"
)

// presetWeights returns the built-in weighting for a preset name.
func presetWeights(name string) (Weights, bool) {
	switch name {
	case PresetConservative:
		// Capital preservation first: drawdown and consistency dominate.
		return Weights{
			Return:       0.10,
			Sharpe:       0.25,
			Drawdown:     0.30,
			WinRate:      0.10,
			ProfitFactor: 0.10,
			Consistency:  0.15,
		}, true
	case PresetBalanced:
		return Weights{
			Return:       0.20,
			Sharpe:       0.25,
			Drawdown:     0.20,
			WinRate:      0.10,
			ProfitFactor: 0.15,
			Consistency:  0.10,
		}, true
	case PresetAggressive:
		// Return-seeking: raw return and profit factor dominate.
		return Weights{
			Return:       0.35,
			Sharpe:       0.15,
			Drawdown:     0.10,
			WinRate:      0.10,
			ProfitFactor: 0.25,
			Consistency:  0.05,
		}, true
	}
	return Weights{}, false
}

// tierThresholds returns the hard-gate tier. Production tightens every gate
// relative to demo; normalization targets stay the same so scores remain
// comparable across tiers.
func tierThresholds(tier string) (Thresholds, bool) {
	base := Thresholds{
		TargetReturn:       0.30, // 30% over the evaluation window normalizes to 1.0
		TargetSharpe:       2.0,
		MaxDrawdown:        0.30,
		TargetWinRate:      0.60,
		TargetProfitFactor: 2.0,
	}

	switch tier {
	case TierDemo:
		base.MinTradesPerMarket = 10
		base.MinMarketsTested = 2
		base.MaxSlippage = 0.005
		base.MaxLatencyMs = 500
		base.MinCompositeScore = 0.50
		return base, true
	case TierProduction:
		base.MinTradesPerMarket = 30
		base.MinMarketsTested = 4
		base.MaxSlippage = 0.002
		base.MaxLatencyMs = 250
		base.MinCompositeScore = 0.65
		return base, true
	}
	return Thresholds{}, false
}

// PresetProfile builds one of the built-in profiles, e.g.
// ("balanced", "production").
func PresetProfile(name, tier string) (*Profile, error) {
	w, ok := presetWeights(name)
	if !ok {
		return nil, fmt.Errorf("unknown profile preset %q", name)
	}
	t, ok := tierThresholds(tier)
	if !ok {
		return nil, fmt.Errorf("unknown threshold tier %q", tier)
	}
	return NewProfile(name, tier, w, t)
}

// profileFile is the on-disk YAML layout: a list of complete profiles.
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads custom profiles from a YAML file. Every profile in the
// file must validate; one bad profile rejects the whole file so a typo
// cannot silently drop a configuration.
func LoadProfiles(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}

	profiles := make(map[string]*Profile, len(file.Profiles))
	for i := range file.Profiles {
		p := file.Profiles[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile file %s: %w", path, err)
		}
		profiles[p.Name] = &p
	}
	return profiles, nil
}
