// Package gate runs the final robustness validation on elite candidates and
// renders the accept/conditional/reject deployment decision.
package gate

// Coefficients collects every tunable constant in the gate's heuristics.
// Only the direction of each relationship is fixed (more degradation means
// a higher overfitting indicator, wider confidence intervals cost points);
// the constants themselves are calibration estimates and injectable so they
// can be replaced without touching the stage logic.
type Coefficients struct {
	// Multi-market consistency
	MinMarketSharpe     float64 // per-market Sharpe needed to count the market as passed
	MaxMarketDrawdown   float64 // per-market drawdown above this fails the market
	SharpeCIZ           float64 // critical value for the Sharpe confidence interval
	SharpeCIWidthLimit  float64 // CI wider than this zeroes the consistency bonus
	MinConsistencyScore float64 // stage score below this raises a critical failure

	// Profit quality
	SignificanceLevel float64 // p-value bound for the returns-vs-zero test
	MinProfitFactor   float64
	MinWinRate        float64

	// Walk-forward
	WalkForwardWindows int     // K rolling windows
	InSampleFraction   float64 // share of each window used in-sample
	MaxMeanDegradation float64 // mean IS→OOS degradation treated as fully overfit
	MaxOverfitting     float64 // overfitting indicator above this is critical

	// Bootstrap robustness
	BootstrapPaths  int
	PathLength      int
	RuinDrawdown    float64 // cumulative fractional loss treated as ruin
	MinProfitProb   float64
	MaxRuinProb     float64
	MaxCIWidth      float64 // terminal-return CI wider than this costs the stage
	BootstrapSeed   int64   // fixed seed keeps assessments reproducible

	// Decision thresholds
	ApproveScore     float64
	ConditionalScore float64

	// Position sizing: risk level from observed drawdown, fraction ceilings
	DrawdownLowRisk    float64
	DrawdownMediumRisk float64
	CeilingLowRisk     float64
	CeilingMediumRisk  float64
	CeilingHighRisk    float64
}

// DefaultCoefficients returns the calibration the gate ships with.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		MinMarketSharpe:     0.5,
		MaxMarketDrawdown:   0.25,
		SharpeCIZ:           1.96,
		SharpeCIWidthLimit:  2.0,
		MinConsistencyScore: 40,

		SignificanceLevel: 0.05,
		MinProfitFactor:   1.2,
		MinWinRate:        0.45,

		WalkForwardWindows: 4,
		InSampleFraction:   0.7,
		MaxMeanDegradation: 0.5,
		MaxOverfitting:     0.7,

		BootstrapPaths: 1000,
		PathLength:     50,
		RuinDrawdown:   0.5,
		MinProfitProb:  0.6,
		MaxRuinProb:    0.05,
		MaxCIWidth:     1.0,
		BootstrapSeed:  1,

		ApproveScore:     85,
		ConditionalScore: 70,

		DrawdownLowRisk:    0.10,
		DrawdownMediumRisk: 0.20,
		CeilingLowRisk:     0.25,
		CeilingMediumRisk:  0.10,
		CeilingHighRisk:    0.02,
	}
}
