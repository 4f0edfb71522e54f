package mutation

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/quantlab/alphaevolve/internal/domain"
)

// Local fallback transformations. Each one is total and pure: the result
// depends only on (parent, kind), it never fails, and repeated calls with
// the same input produce the same child. That determinism is what lets the
// loop make progress when the generative service is down for an entire run.

// indicatorSubstitutions is the textual swap table for the indicator-swap
// fallback. Only the first indicator found in the source is replaced.
var indicatorSubstitutions = [][2]string{
	{"sma", "ema"},
	{"ema", "wma"},
	{"wma", "sma"},
	{"rsi", "cci"},
	{"cci", "rsi"},
	{"macd", "momentum"},
	{"momentum", "macd"},
	{"bollinger", "keltner"},
	{"keltner", "bollinger"},
}

// timeframeCycle shifts every timeframe token one step right.
var timeframeCycle = []string{"15m", "1h", "4h", "1d"}

// riskParameterHints marks parameter names the risk fallback scales.
var riskParameterHints = []string{"stop", "risk", "size", "take_profit", "exposure", "leverage"}

// applyFallback produces the fallback child source and parameters for a
// kind. The parent is not modified.
func applyFallback(parent domain.Genome, kind Kind) (string, map[string]float64) {
	params := make(map[string]float64, len(parent.Parameters))
	for k, v := range parent.Parameters {
		params[k] = v
	}
	source := parent.Source

	switch kind {
	case KindParameter:
		// Bounded numeric jitter: each parameter scaled by a factor in
		// [0.85, 1.15] derived from (parent id, key) so the transform is pure.
		for _, key := range sortedParamKeys(params) {
			params[key] = params[key] * jitterFactor(parent.ID, key, 0.15)
		}

	case KindLogic:
		source = flipLogic(source)

	case KindIndicatorSwap:
		source = swapIndicator(source)

	case KindTimeframe:
		source = shiftTimeframes(source)
		// Longer bars need proportionally shorter lookbacks
		for _, key := range sortedParamKeys(params) {
			if strings.Contains(key, "lookback") || strings.Contains(key, "period") || strings.Contains(key, "window") {
				scaled := params[key] * 0.5
				if scaled < 2 {
					scaled = 2
				}
				params[key] = scaled
			}
		}

	case KindRisk:
		for _, key := range sortedParamKeys(params) {
			if isRiskParameter(key) {
				params[key] = params[key] * jitterFactor(parent.ID, "risk:"+key, 0.25)
			}
		}
		// A parent with no risk parameters still gets a meaningful change
		if !hasRiskParameter(params) {
			params["risk_fraction"] = 0.01 * jitterFactor(parent.ID, "risk_fraction", 0.25)
		}
	}

	return source, params
}

// jitterFactor derives a deterministic multiplier in [1-spread, 1+spread]
// from a seed pair.
func jitterFactor(id, key string, spread float64) float64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(key))
	// Map the hash onto [0, 1)
	unit := float64(h.Sum64()%1_000_000) / 1_000_000.0
	return 1 - spread + 2*spread*unit
}

func sortedParamKeys(params map[string]float64) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// swapIndicator replaces the first known indicator token found in source.
func swapIndicator(source string) string {
	lower := strings.ToLower(source)
	bestIdx := -1
	var best [2]string
	for _, sub := range indicatorSubstitutions {
		idx := strings.Index(lower, sub[0])
		if idx >= 0 && (bestIdx == -1 || idx < bestIdx) {
			bestIdx = idx
			best = sub
		}
	}
	if bestIdx == -1 {
		// Nothing to swap; annotate so the child still differs from the parent
		return source + fmt.Sprintf("\n# variant: indicator rotation %s->%s\n", indicatorSubstitutions[0][0], indicatorSubstitutions[0][1])
	}
	return source[:bestIdx] + best[1] + source[bestIdx+len(best[0]):]
}

// shiftTimeframes rotates every timeframe token one step along the cycle.
func shiftTimeframes(source string) string {
	// Two-pass replace via placeholders so "1h"->"4h" does not collide with
	// the later "4h"->"1d" rotation.
	out := source
	for i, tf := range timeframeCycle {
		out = strings.ReplaceAll(out, tf, fmt.Sprintf("\x00tf%d\x00", i))
	}
	for i := range timeframeCycle {
		next := timeframeCycle[(i+1)%len(timeframeCycle)]
		out = strings.ReplaceAll(out, fmt.Sprintf("\x00tf%d\x00", i), next)
	}
	if out == source {
		out = source + "\n# variant: timeframe shift\n"
	}
	return out
}

// flipLogic inverts the first directional comparison or crossover found.
var logicFlips = [][2]string{
	{"crosses_above", "crosses_below"},
	{"crosses_below", "crosses_above"},
	{" > ", " < "},
	{" < ", " > "},
	{" >= ", " <= "},
	{" <= ", " >= "},
}

func flipLogic(source string) string {
	bestIdx := -1
	var best [2]string
	for _, flip := range logicFlips {
		idx := strings.Index(source, flip[0])
		if idx >= 0 && (bestIdx == -1 || idx < bestIdx) {
			bestIdx = idx
			best = flip
		}
	}
	if bestIdx == -1 {
		return source + "\n# variant: inverted signal\n"
	}
	return source[:bestIdx] + best[1] + source[bestIdx+len(best[0]):]
}

func isRiskParameter(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range riskParameterHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func hasRiskParameter(params map[string]float64) bool {
	for k := range params {
		if isRiskParameter(k) {
			return true
		}
	}
	return false
}
