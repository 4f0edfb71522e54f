package gate

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/pkg/formulas"
)

// consistencyStage measures whether the candidate behaves the same way
// across the market matrix: per-market pass rate, mean Sharpe and drawdown,
// and the width of the Sharpe confidence interval across markets.
func consistencyStage(records []domain.MetricsRecord, c Coefficients) StageResult {
	stage := StageResult{Name: "multi-market consistency"}

	sharpes := make([]float64, 0, len(records))
	drawdowns := make([]float64, 0, len(records))
	passed := 0
	for _, r := range records {
		sharpes = append(sharpes, r.SharpeRatio)
		drawdowns = append(drawdowns, r.MaxDrawdown)
		if r.TotalReturn > 0 && r.SharpeRatio >= c.MinMarketSharpe && r.MaxDrawdown <= c.MaxMarketDrawdown {
			passed++
		}
	}

	passRate := float64(passed) / float64(len(records))
	meanSharpe := formulas.Mean(sharpes)
	meanDrawdown := formulas.Mean(drawdowns)

	low, high := formulas.ConfidenceInterval(sharpes, c.SharpeCIZ)
	ciWidth := high - low
	ciScore := clampUnit(1 - ciWidth/c.SharpeCIWidthLimit)

	stage.Score = 100 * (0.5*passRate + 0.3*clampUnit(meanSharpe/2) + 0.2*ciScore)

	stage.Checks = append(stage.Checks,
		Check{
			Name:    "market pass rate",
			Passed:  passRate >= 0.5,
			Message: fmt.Sprintf("%d of %d markets passed", passed, len(records)),
		},
		Check{
			Name:     "mean drawdown within limit",
			Passed:   meanDrawdown <= c.MaxMarketDrawdown,
			Critical: true,
			Message:  fmt.Sprintf("mean drawdown %.3f, limit %.3f", meanDrawdown, c.MaxMarketDrawdown),
		},
		Check{
			Name:    "sharpe interval stable",
			Passed:  ciWidth <= c.SharpeCIWidthLimit,
			Message: fmt.Sprintf("sharpe CI [%.2f, %.2f] width %.2f", low, high, ciWidth),
		},
		Check{
			Name:     "consistency floor",
			Passed:   stage.Score >= c.MinConsistencyScore,
			Critical: true,
			Message:  fmt.Sprintf("stage score %.1f, floor %.1f", stage.Score, c.MinConsistencyScore),
		},
	)
	return stage
}

// profitQualityStage tests whether the observed profits are real: a
// one-sided t-test of per-market returns against zero plus a composite
// profit score from profit factor and win rate.
func profitQualityStage(records []domain.MetricsRecord, c Coefficients) StageResult {
	stage := StageResult{Name: "profit quality"}

	returns := make([]float64, 0, len(records))
	totalPnL := 0.0
	pfSum, wrSum := 0.0, 0.0
	for _, r := range records {
		returns = append(returns, r.TotalReturn)
		totalPnL += r.TotalPnL
		pfSum += r.ProfitFactor
		wrSum += r.WinRate
	}
	meanPF := pfSum / float64(len(records))
	meanWR := wrSum / float64(len(records))

	// One-sided t-test: H0 mean return <= 0. With fewer than three markets
	// the test has no power; treat it as failed, not as passed.
	significant := false
	pValue := 1.0
	if len(returns) >= 3 {
		t := formulas.TStatistic(returns, 0)
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(len(returns) - 1)}
		pValue = dist.Survival(t)
		significant = pValue <= c.SignificanceLevel
	}

	profitScore := clampUnit(0.4*clampUnit(meanPF/2) + 0.3*clampUnit(meanWR/0.6) + 0.3*boolUnit(totalPnL > 0))
	sigScore := clampUnit(1 - pValue/(2*c.SignificanceLevel))

	stage.Score = 100 * (0.6*profitScore + 0.4*sigScore)

	stage.Checks = append(stage.Checks,
		Check{
			Name:    "returns significantly positive",
			Passed:  significant,
			Message: fmt.Sprintf("one-sided p-value %.4f against level %.2f over %d markets", pValue, c.SignificanceLevel, len(returns)),
		},
		Check{
			Name:    "profit factor above minimum",
			Passed:  meanPF >= c.MinProfitFactor,
			Message: fmt.Sprintf("mean profit factor %.2f, minimum %.2f", meanPF, c.MinProfitFactor),
		},
		Check{
			Name:    "win rate above minimum",
			Passed:  meanWR >= c.MinWinRate,
			Message: fmt.Sprintf("mean win rate %.2f, minimum %.2f", meanWR, c.MinWinRate),
		},
		Check{
			Name:     "net PnL positive",
			Passed:   totalPnL > 0,
			Critical: true,
			Message:  fmt.Sprintf("total PnL %.2f", totalPnL),
		},
	)
	return stage
}

// WindowResult is one walk-forward window: the candidate's return on the
// in-sample slice it was fit to and on the out-of-sample slice that follows.
type WindowResult struct {
	Market            string
	InSampleReturn    float64
	OutOfSampleReturn float64
}

// walkForwardStage derives an overfitting indicator from the in-sample to
// out-of-sample degradation across windows: its mean, its variance, and the
// out-of-sample pass rate.
func walkForwardStage(windows []WindowResult, c Coefficients) StageResult {
	stage := StageResult{Name: "walk-forward validation"}

	if len(windows) == 0 {
		stage.Checks = append(stage.Checks, Check{
			Name:     "walk-forward windows available",
			Passed:   false,
			Critical: true,
			Message:  "no walk-forward windows produced a result",
		})
		return stage
	}

	degradations := make([]float64, 0, len(windows))
	oosPassed := 0
	for _, w := range windows {
		if w.OutOfSampleReturn > 0 {
			oosPassed++
		}
		if w.InSampleReturn <= 0 {
			// Nothing to degrade from; a losing in-sample window is its own
			// failure and counts as full degradation.
			degradations = append(degradations, 1)
			continue
		}
		deg := (w.InSampleReturn - w.OutOfSampleReturn) / w.InSampleReturn
		degradations = append(degradations, math.Max(0, math.Min(deg, 1.5)))
	}

	meanDeg := formulas.Mean(degradations)
	varDeg := formulas.Variance(degradations)
	oosRate := float64(oosPassed) / float64(len(windows))

	// More degradation, more variance, fewer profitable OOS windows all push
	// the indicator up.
	overfit := clampUnit(0.6*clampUnit(meanDeg/c.MaxMeanDegradation) + 0.2*clampUnit(varDeg) + 0.2*(1-oosRate))

	stage.Score = 100 * (0.6*(1-overfit) + 0.4*oosRate)

	stage.Checks = append(stage.Checks,
		Check{
			Name:     "overfitting indicator within bound",
			Passed:   overfit <= c.MaxOverfitting,
			Critical: true,
			Message:  fmt.Sprintf("overfitting %.2f (mean degradation %.2f, variance %.3f), bound %.2f", overfit, meanDeg, varDeg, c.MaxOverfitting),
		},
		Check{
			Name:    "out-of-sample windows profitable",
			Passed:  oosRate >= 0.5,
			Message: fmt.Sprintf("%d of %d windows profitable out-of-sample", oosPassed, len(windows)),
		},
	)
	return stage
}

// robustnessStage bootstrap-resamples the per-market returns into synthetic
// paths and measures probability of profit, probability of ruin, and the
// spread of terminal outcomes. The rng is seeded from the coefficients so
// repeated assessments of the same records agree.
func robustnessStage(records []domain.MetricsRecord, c Coefficients) StageResult {
	stage := StageResult{Name: "bootstrap robustness"}

	sample := make([]float64, 0, len(records))
	for _, r := range records {
		sample = append(sample, r.TotalReturn)
	}

	pathLen := c.PathLength
	if pathLen <= 0 {
		pathLen = len(sample)
	}

	rng := rand.New(rand.NewSource(c.BootstrapSeed))
	terminals := make([]float64, c.BootstrapPaths)
	ruined := 0
	for p := 0; p < c.BootstrapPaths; p++ {
		equity := 1.0
		peak := 1.0
		ruin := false
		for i := 0; i < pathLen; i++ {
			equity *= 1 + sample[rng.Intn(len(sample))]
			if equity > peak {
				peak = equity
			}
			if equity <= peak*(1-c.RuinDrawdown) {
				ruin = true
			}
		}
		terminals[p] = equity - 1
		if ruin {
			ruined++
		}
	}

	profitable := 0
	for _, t := range terminals {
		if t > 0 {
			profitable++
		}
	}
	probProfit := float64(profitable) / float64(len(terminals))
	probRuin := float64(ruined) / float64(len(terminals))
	ciWidth := formulas.Percentile(terminals, 97.5) - formulas.Percentile(terminals, 2.5)

	stage.Score = 100 * (0.5*probProfit +
		0.3*clampUnit(1-probRuin/c.MaxRuinProb) +
		0.2*clampUnit(1-ciWidth/c.MaxCIWidth))

	stage.Checks = append(stage.Checks,
		Check{
			Name:    "probability of profit",
			Passed:  probProfit >= c.MinProfitProb,
			Message: fmt.Sprintf("P(profit) %.3f, minimum %.3f over %d paths", probProfit, c.MinProfitProb, c.BootstrapPaths),
		},
		Check{
			Name:     "probability of ruin",
			Passed:   probRuin <= c.MaxRuinProb,
			Critical: true,
			Message:  fmt.Sprintf("P(ruin) %.3f at %.0f%% drawdown, maximum %.3f", probRuin, c.RuinDrawdown*100, c.MaxRuinProb),
		},
		Check{
			Name:    "outcome spread bounded",
			Passed:  ciWidth <= c.MaxCIWidth,
			Message: fmt.Sprintf("95%% terminal-return interval width %.2f, bound %.2f", ciWidth, c.MaxCIWidth),
		},
	)
	return stage
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func boolUnit(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
