package gate

import (
	"math"
	"time"
)

// Status is the gate's final verdict.
type Status string

const (
	StatusApproved         Status = "approved"
	StatusConditional      Status = "conditional"
	StatusNeedsImprovement Status = "needs-improvement"
	StatusRejected         Status = "rejected"
)

// Check is one named pass/fail verdict inside a stage. Critical checks
// reject the candidate outright regardless of the aggregate score.
type Check struct {
	Name     string
	Passed   bool
	Critical bool
	Message  string
}

// StageResult is one validation stage's outcome: a 0-100 sub-score plus its
// checks.
type StageResult struct {
	Name   string
	Score  float64
	Checks []Check
}

// failedCritical reports whether any critical check in the stage failed.
func (s StageResult) failedCritical() bool {
	for _, c := range s.Checks {
		if c.Critical && !c.Passed {
			return true
		}
	}
	return false
}

// warnings counts failed non-critical checks.
func (s StageResult) warnings() int {
	n := 0
	for _, c := range s.Checks {
		if !c.Critical && !c.Passed {
			n++
		}
	}
	return n
}

// ReadinessReport is the gate's full output: verdict, evidence, and the
// recommended exposure. It is a pure function of its inputs and is
// recomputed per assessment, never mutated.
type ReadinessReport struct {
	GenomeID  string
	VersionID string

	Status         Status
	AggregateScore float64
	Stages         []StageResult

	RiskLevel        string
	PositionFraction float64

	AssessedAt time.Time
}

// FailedChecks returns every failed check across all stages, the exact
// reasons a candidate was denied.
func (r *ReadinessReport) FailedChecks() []Check {
	var failed []Check
	for _, stage := range r.Stages {
		for _, c := range stage.Checks {
			if !c.Passed {
				failed = append(failed, c)
			}
		}
	}
	return failed
}

// decide renders the verdict from the stage results: any critical failure
// rejects outright; otherwise the aggregate (mean of stage scores) and the
// warning count pick between approved, conditional and needs-improvement.
func decide(stages []StageResult, c Coefficients) (Status, float64) {
	total := 0.0
	warnings := 0
	critical := false
	for _, s := range stages {
		total += s.Score
		warnings += s.warnings()
		if s.failedCritical() {
			critical = true
		}
	}
	aggregate := total / float64(len(stages))

	switch {
	case critical:
		return StatusRejected, aggregate
	case aggregate >= c.ApproveScore && warnings == 0:
		return StatusApproved, aggregate
	case aggregate >= c.ConditionalScore:
		return StatusConditional, aggregate
	default:
		return StatusNeedsImprovement, aggregate
	}
}

// positionSize derives the recommended exposure. The risk level comes from
// the observed max drawdown; when trade statistics support it, a fractional
// estimate (half-Kelly) refines the number, clipped to the risk-level
// ceiling.
func positionSize(maxDrawdown, winRate, profitFactor float64, c Coefficients) (string, float64) {
	var level string
	var ceiling float64
	switch {
	case maxDrawdown <= c.DrawdownLowRisk:
		level, ceiling = "low", c.CeilingLowRisk
	case maxDrawdown <= c.DrawdownMediumRisk:
		level, ceiling = "medium", c.CeilingMediumRisk
	default:
		level, ceiling = "high", c.CeilingHighRisk
	}

	fraction := ceiling
	if winRate > 0 && winRate < 1 && profitFactor > 0 {
		// Payoff ratio implied by the profit factor and win rate
		payoff := profitFactor * (1 - winRate) / winRate
		if payoff > 0 {
			kelly := winRate - (1-winRate)/payoff
			if kelly > 0 {
				fraction = math.Min(ceiling, kelly/2)
			} else {
				fraction = 0
			}
		}
	}

	return level, fraction
}
