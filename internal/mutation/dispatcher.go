package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/clients/gemini"
	"github.com/quantlab/alphaevolve/internal/domain"
)

// Generator is the generative text service the dispatcher calls on the
// primary path. The gemini client satisfies it; tests substitute stubs.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, params gemini.SamplingParams) (*gemini.Result, error)
}

// Dispatcher produces child genomes from (parent, kind) requests.
type Dispatcher struct {
	gen         Generator // nil means fallback-only operation
	maxAttempts int
	sampling    gemini.SamplingParams
	log         zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts overrides the generative retry budget.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithSampling overrides the sampling parameters sent to the service.
func WithSampling(p gemini.SamplingParams) Option {
	return func(d *Dispatcher) { d.sampling = p }
}

// NewDispatcher creates a mutation dispatcher. gen may be nil, in which case
// every mutation takes the local fallback path.
func NewDispatcher(gen Generator, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gen:         gen,
		maxAttempts: 3,
		sampling:    gemini.DefaultSamplingParams(),
		log:         log.With().Str("component", "mutation").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mutate produces a child genome. The generative path is attempted first
// (when a generator is configured) with bounded retries and corrective
// feedback; any failure whatsoever falls through to the local transformation
// for the kind, which never fails. The only error Mutate can return is an
// invalid kind.
func (d *Dispatcher) Mutate(ctx context.Context, parent domain.Genome, kind Kind) (domain.Genome, error) {
	if !kind.Valid() {
		return domain.Genome{}, fmt.Errorf("invalid mutation kind %d", int(kind))
	}

	if d.gen != nil {
		if child, ok := d.tryGenerative(ctx, parent, kind); ok {
			return child, nil
		}
	}

	source, params := applyFallback(parent, kind)
	d.log.Debug().
		Str("parent", parent.ID).
		Stringer("kind", kind).
		Msg("using local fallback mutation")

	return d.newChild(parent, kind, source, params), nil
}

// tryGenerative runs the service path: prompt, generate, extract, validate,
// retry with feedback. Returns ok=false when the budget is exhausted or the
// service is unusable.
func (d *Dispatcher) tryGenerative(ctx context.Context, parent domain.Genome, kind Kind) (domain.Genome, bool) {
	feedback := ""
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.Genome{}, false
		}

		result, err := d.gen.Generate(ctx, systemPrompt, buildUserPrompt(parent, kind, feedback), d.sampling)
		if err != nil {
			// Unreachable and malformed are treated identically: fall back.
			d.log.Warn().Err(err).
				Str("parent", parent.ID).
				Stringer("kind", kind).
				Int("attempt", attempt).
				Msg("generative service call failed")
			return domain.Genome{}, false
		}

		source := extractCodeBlock(result.Text)
		if err := ValidateSource(source); err != nil {
			feedback = err.Error()
			d.log.Debug().
				Str("parent", parent.ID).
				Stringer("kind", kind).
				Int("attempt", attempt).
				Str("reason", feedback).
				Msg("generated source rejected by validator")
			continue
		}

		// Generated source keeps the parent's parameters; the service path
		// encodes parameter changes in the source itself.
		return d.newChild(parent, kind, source, parent.Clone().Parameters), true
	}

	return domain.Genome{}, false
}

// newChild assembles a child genome with the lineage rules applied:
// parent_ids = parent.parent_ids + [parent.id], generation = parent's + 1.
func (d *Dispatcher) newChild(parent domain.Genome, kind Kind, source string, params map[string]float64) domain.Genome {
	parents := make([]string, 0, len(parent.ParentIDs)+1)
	parents = append(parents, parent.ParentIDs...)
	if parent.ID != "" {
		parents = append(parents, parent.ID)
	}

	return domain.Genome{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("%s-%s-g%d", parent.Name, kind, parent.Generation+1),
		Description: fmt.Sprintf("%s mutation of %s", kind, parent.Name),
		Source:      source,
		Parameters:  params,
		Generation:  parent.Generation + 1,
		ParentIDs:   parents,
	}
}
