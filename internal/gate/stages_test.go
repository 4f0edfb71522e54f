package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/alphaevolve/internal/domain"
)

func stageRecord(market string, totalReturn float64) domain.MetricsRecord {
	return domain.MetricsRecord{
		Market:       market,
		Timeframe:    "1h",
		TotalReturn:  totalReturn,
		SharpeRatio:  1.8,
		MaxDrawdown:  0.08,
		WinRate:      0.58,
		ProfitFactor: 1.9,
		NumTrades:    42,
		TotalPnL:     totalReturn * 10000,
		Consistency:  0.7,
	}
}

func healthyRecords() []domain.MetricsRecord {
	return []domain.MetricsRecord{
		stageRecord("A@1h", 0.010),
		stageRecord("B@1h", 0.012),
		stageRecord("C@1h", 0.014),
		stageRecord("D@1h", 0.011),
	}
}

func TestDecideCriticalFailureRejects(t *testing.T) {
	c := DefaultCoefficients()
	stages := []StageResult{
		{Score: 95, Checks: []Check{{Name: "fatal", Critical: true, Passed: false}}},
		{Score: 95},
		{Score: 95},
		{Score: 95},
	}

	status, aggregate := decide(stages, c)
	assert.Equal(t, StatusRejected, status, "a critical failure overrides any score")
	assert.InDelta(t, 95.0, aggregate, 1e-9)
}

func TestDecideScoreBands(t *testing.T) {
	c := DefaultCoefficients()

	clean := func(score float64) []StageResult {
		return []StageResult{{Score: score}, {Score: score}, {Score: score}, {Score: score}}
	}

	status, _ := decide(clean(90), c)
	assert.Equal(t, StatusApproved, status)

	status, _ = decide(clean(75), c)
	assert.Equal(t, StatusConditional, status)

	status, _ = decide(clean(50), c)
	assert.Equal(t, StatusNeedsImprovement, status)

	// A warning demotes a would-be approval to conditional
	warned := clean(90)
	warned[0].Checks = []Check{{Name: "soft", Passed: false}}
	status, _ = decide(warned, c)
	assert.Equal(t, StatusConditional, status)
}

func TestPositionSize(t *testing.T) {
	c := DefaultCoefficients()

	level, fraction := positionSize(0.05, 0.6, 2.0, c)
	assert.Equal(t, "low", level)
	// payoff 1.333, kelly 0.30, half-Kelly 0.15 under the 0.25 ceiling
	assert.InDelta(t, 0.15, fraction, 1e-9)

	level, fraction = positionSize(0.15, 0.6, 2.0, c)
	assert.Equal(t, "medium", level)
	assert.InDelta(t, c.CeilingMediumRisk, fraction, 1e-9, "half-Kelly above the ceiling is clipped")

	level, fraction = positionSize(0.35, 0.6, 2.0, c)
	assert.Equal(t, "high", level)
	assert.LessOrEqual(t, fraction, c.CeilingHighRisk)

	// A losing edge sizes to zero
	_, fraction = positionSize(0.05, 0.3, 0.5, c)
	assert.Equal(t, 0.0, fraction)

	// Degenerate statistics fall back to the ceiling
	_, fraction = positionSize(0.05, 0, 0, c)
	assert.Equal(t, c.CeilingLowRisk, fraction)
}

func TestConsistencyStageHealthy(t *testing.T) {
	c := DefaultCoefficients()
	stage := consistencyStage(healthyRecords(), c)

	assert.False(t, stage.failedCritical())
	assert.Zero(t, stage.warnings())
	assert.Greater(t, stage.Score, c.MinConsistencyScore)
}

func TestConsistencyStageDrawdownCritical(t *testing.T) {
	c := DefaultCoefficients()
	records := healthyRecords()
	for i := range records {
		records[i].MaxDrawdown = 0.5
	}

	stage := consistencyStage(records, c)
	assert.True(t, stage.failedCritical(), "mean drawdown beyond the limit is a critical failure")
}

func TestProfitQualityStageHealthy(t *testing.T) {
	c := DefaultCoefficients()
	stage := profitQualityStage(healthyRecords(), c)

	assert.False(t, stage.failedCritical())
	assert.Zero(t, stage.warnings(), "tight positive returns pass the significance test")
	assert.Greater(t, stage.Score, 80.0)
}

func TestProfitQualityStageNegativePnL(t *testing.T) {
	c := DefaultCoefficients()
	records := healthyRecords()
	for i := range records {
		records[i].TotalReturn = -0.05
		records[i].TotalPnL = -500
	}

	stage := profitQualityStage(records, c)
	assert.True(t, stage.failedCritical(), "negative net PnL is a critical failure")
}

func TestProfitQualityStageTooFewMarkets(t *testing.T) {
	c := DefaultCoefficients()
	stage := profitQualityStage(healthyRecords()[:2], c)

	// Two markets cannot establish significance; the check fails soft
	for _, check := range stage.Checks {
		if check.Name == "returns significantly positive" {
			assert.False(t, check.Passed)
			assert.False(t, check.Critical)
			return
		}
	}
	t.Fatal("significance check missing")
}

func TestWalkForwardStageEmptyIsCritical(t *testing.T) {
	stage := walkForwardStage(nil, DefaultCoefficients())

	assert.True(t, stage.failedCritical(), "no windows means no evidence, never a pass")
	assert.Zero(t, stage.Score)
}

func TestWalkForwardStageModestDegradation(t *testing.T) {
	windows := []WindowResult{
		{Market: "A@1h", InSampleReturn: 0.012, OutOfSampleReturn: 0.010},
		{Market: "B@1h", InSampleReturn: 0.011, OutOfSampleReturn: 0.009},
		{Market: "C@1h", InSampleReturn: 0.013, OutOfSampleReturn: 0.011},
		{Market: "D@1h", InSampleReturn: 0.012, OutOfSampleReturn: 0.010},
	}

	stage := walkForwardStage(windows, DefaultCoefficients())
	assert.False(t, stage.failedCritical())
	assert.Greater(t, stage.Score, 70.0)
}

func TestWalkForwardStageCollapseIsCritical(t *testing.T) {
	windows := []WindowResult{
		{Market: "A@1h", InSampleReturn: 0.20, OutOfSampleReturn: -0.10},
		{Market: "B@1h", InSampleReturn: 0.18, OutOfSampleReturn: -0.08},
	}

	stage := walkForwardStage(windows, DefaultCoefficients())
	assert.True(t, stage.failedCritical(), "out-of-sample collapse must trip the overfitting bound")
}

func TestRobustnessStageDeterministic(t *testing.T) {
	c := DefaultCoefficients()
	records := healthyRecords()

	first := robustnessStage(records, c)
	second := robustnessStage(records, c)

	require.Equal(t, first.Score, second.Score, "seeded bootstrap must be repeatable")
	assert.Equal(t, first.Checks, second.Checks)
	assert.False(t, first.failedCritical())
}

func TestRobustnessStageRuin(t *testing.T) {
	c := DefaultCoefficients()
	records := []domain.MetricsRecord{
		stageRecord("A@1h", -0.20),
		stageRecord("B@1h", -0.25),
		stageRecord("C@1h", -0.30),
	}

	stage := robustnessStage(records, c)
	assert.True(t, stage.failedCritical(), "steady losses must trip the ruin probability")
	assert.Less(t, stage.Score, 40.0)
}
