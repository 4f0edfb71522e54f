package mutation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantlab/alphaevolve/internal/domain"
)

const systemPrompt = `You are a quantitative trading strategy engineer. You rewrite candidate
trading-signal programs. A candidate is a self-contained script that defines
def generate_signal(candles, params) returning one of "buy", "sell" or "hold".
Rules:
- Output exactly one fenced code block containing the complete rewritten script.
- Keep the generate_signal entry point; do not rename it.
- No file, network, process or import-machinery access of any kind.
- Change only what the requested mutation asks for; preserve the rest.`

// kindInstruction describes the concrete rewrite each mutation kind asks for.
func kindInstruction(kind Kind) string {
	switch kind {
	case KindParameter:
		return "Adjust the numeric parameters of the strategy (lookback lengths, thresholds) by modest amounts. Do not change the decision logic."
	case KindLogic:
		return "Restructure the entry/exit decision logic: reorder conditions, change a comparison, or combine signals differently. Keep the same indicators."
	case KindIndicatorSwap:
		return "Replace one technical indicator with a related one (for example a simple moving average with an exponential one) and adapt its usage."
	case KindTimeframe:
		return "Re-target the strategy at a different bar timeframe, scaling lookbacks and thresholds accordingly."
	case KindRisk:
		return "Change the risk management: stop placement, position sizing, or exposure limits. Do not change the signal logic."
	default:
		return "Make a small, safe improvement to the strategy."
	}
}

// buildUserPrompt assembles the mutation request. feedback carries the
// validator's complaint from the previous attempt, empty on the first try.
func buildUserPrompt(parent domain.Genome, kind Kind, feedback string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mutation requested: %s\n%s\n\n", kind, kindInstruction(kind))

	if len(parent.Parameters) > 0 {
		b.WriteString("Current parameters:\n")
		keys := make([]string, 0, len(parent.Parameters))
		for k := range parent.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s = %g\n", k, parent.Parameters[k])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Current strategy (generation %d):\n```python\n%s\n```\n", parent.Generation, parent.Source)

	if feedback != "" {
		fmt.Fprintf(&b, "\nYour previous attempt was rejected: %s\nFix that and return the corrected script.\n", feedback)
	}

	return b.String()
}

// extractCodeBlock pulls the first fenced code block out of a model
// response. When no fence is present the whole trimmed text is returned and
// left for the validator to judge.
func extractCodeBlock(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return strings.TrimSpace(text)
	}

	rest := text[start+3:]
	// Skip an optional language tag on the fence line
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 16 && !strings.ContainsAny(firstLine, " \t") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
