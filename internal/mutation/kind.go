// Package mutation turns a parent genome plus a mutation intent into a child
// genome. The primary path goes through the generative service; a total,
// pure, local transformation per kind guarantees the evolutionary loop is
// never blocked on an external dependency.
package mutation

import "fmt"

// Kind is the closed set of mutation intents. Every switch over Kind in this
// package is exhaustive; adding a kind without handling it everywhere is a
// compile-time-visible change.
type Kind int

const (
	// KindParameter perturbs numeric strategy parameters.
	KindParameter Kind = iota
	// KindLogic alters entry/exit decision logic.
	KindLogic
	// KindIndicatorSwap replaces one technical indicator with another.
	KindIndicatorSwap
	// KindTimeframe shifts the operating timeframe and lookbacks.
	KindTimeframe
	// KindRisk adjusts stop-loss/position-sizing behaviour.
	KindRisk
)

// Kinds lists every mutation kind, in a stable order.
var Kinds = []Kind{KindParameter, KindLogic, KindIndicatorSwap, KindTimeframe, KindRisk}

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindLogic:
		return "logic"
	case KindIndicatorSwap:
		return "indicator_swap"
	case KindTimeframe:
		return "timeframe"
	case KindRisk:
		return "risk"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a canonical name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mutation kind: %q", s)
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool {
	return k >= KindParameter && k <= KindRisk
}
