package mutation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/alphaevolve/internal/domain"
)

func fallbackParent() domain.Genome {
	return domain.Genome{
		ID:   "parent-1",
		Name: "crossover",
		Source: `def generate_signal(candles, params):
    fast = sma(candles, params["fast_period"])
    slow = sma(candles, params["slow_period"])
    if fast > slow:
        return "buy"
    return "hold"
`,
		Parameters: map[string]float64{
			"fast_period": 9,
			"slow_period": 21,
			"stop_loss":   0.02,
		},
	}
}

func TestFallbackTotalAndDeterministic(t *testing.T) {
	parent := fallbackParent()

	for _, kind := range Kinds {
		source, params := applyFallback(parent, kind)
		require.NoError(t, ValidateSource(source), "fallback output for %s must pass validation", kind)

		// A pure transform: same input, same output
		source2, params2 := applyFallback(parent, kind)
		assert.Equal(t, source, source2, "%s source must be deterministic", kind)
		assert.Equal(t, params, params2, "%s parameters must be deterministic", kind)

		// The parent is never modified
		assert.Equal(t, 9.0, parent.Parameters["fast_period"])
	}
}

func TestFallbackParameterJitterBounds(t *testing.T) {
	parent := fallbackParent()
	_, params := applyFallback(parent, KindParameter)

	for key, original := range parent.Parameters {
		ratio := params[key] / original
		assert.GreaterOrEqual(t, ratio, 0.85, "jitter for %s below lower bound", key)
		assert.LessOrEqual(t, ratio, 1.15, "jitter for %s above upper bound", key)
	}
}

func TestFallbackLogicFlip(t *testing.T) {
	parent := fallbackParent()
	source, _ := applyFallback(parent, KindLogic)

	assert.Contains(t, source, "fast < slow")
	assert.NotContains(t, source, "fast > slow")
}

func TestFallbackLogicFlipWithoutComparison(t *testing.T) {
	parent := fallbackParent()
	parent.Source = "def generate_signal(candles, params):\n    return \"hold\"\n"

	source, _ := applyFallback(parent, KindLogic)
	assert.NotEqual(t, parent.Source, source, "child must differ even with nothing to flip")
	assert.NoError(t, ValidateSource(source))
}

func TestFallbackIndicatorSwap(t *testing.T) {
	parent := fallbackParent()
	source, _ := applyFallback(parent, KindIndicatorSwap)

	// The first sma occurrence is rotated to ema
	assert.Contains(t, source, "ema(candles")
}

func TestFallbackTimeframeScalesLookbacks(t *testing.T) {
	parent := fallbackParent()
	_, params := applyFallback(parent, KindTimeframe)

	assert.InDelta(t, 4.5, params["fast_period"], 1e-9)
	assert.InDelta(t, 10.5, params["slow_period"], 1e-9)
	assert.InDelta(t, 0.02, params["stop_loss"], 1e-9, "non-lookback parameters are untouched")
}

func TestFallbackTimeframeRotatesTokens(t *testing.T) {
	parent := fallbackParent()
	parent.Source = "def generate_signal(candles, params):\n    # operates on 1h bars, confirms on 4h\n    return \"hold\"\n"

	source, _ := applyFallback(parent, KindTimeframe)
	assert.Contains(t, source, "4h bars")
	assert.Contains(t, source, "on 1d")
}

func TestFallbackRiskAdjustment(t *testing.T) {
	parent := fallbackParent()
	_, params := applyFallback(parent, KindRisk)

	ratio := params["stop_loss"] / parent.Parameters["stop_loss"]
	assert.GreaterOrEqual(t, ratio, 0.75)
	assert.LessOrEqual(t, ratio, 1.25)
	assert.Equal(t, 9.0, params["fast_period"], "non-risk parameters are untouched")
}

func TestFallbackRiskAddsParameterWhenMissing(t *testing.T) {
	parent := fallbackParent()
	parent.Parameters = map[string]float64{"fast_period": 9}

	_, params := applyFallback(parent, KindRisk)
	assert.Contains(t, params, "risk_fraction")
	assert.Greater(t, params["risk_fraction"], 0.0)
}
