package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/alphaevolve/internal/clients/gemini"
	testhelpers "github.com/quantlab/alphaevolve/internal/testing"
)

// recordingGenerator captures every prompt it is asked to complete.
type recordingGenerator struct {
	responses []string

	mu      sync.Mutex
	prompts []string
}

func (r *recordingGenerator) Generate(_ context.Context, _, userPrompt string, _ gemini.SamplingParams) (*gemini.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, userPrompt)
	idx := len(r.prompts) - 1
	if idx >= len(r.responses) {
		idx = len(r.responses) - 1
	}
	return &gemini.Result{Text: r.responses[idx]}, nil
}

func TestMutateRejectsInvalidKind(t *testing.T) {
	d := NewDispatcher(nil, zerolog.Nop())

	_, err := d.Mutate(context.Background(), testhelpers.NewGenomeFixture("p"), Kind(99))
	assert.ErrorContains(t, err, "invalid mutation kind")
}

func TestMutateFallbackOnlyWithoutGenerator(t *testing.T) {
	d := NewDispatcher(nil, zerolog.Nop())
	parent := testhelpers.NewGenomeFixture("p")

	for _, kind := range Kinds {
		child, err := d.Mutate(context.Background(), parent, kind)
		require.NoError(t, err, "mutation %s must never fail without a generator", kind)
		assert.NoError(t, ValidateSource(child.Source))

		assert.NotEmpty(t, child.ID)
		assert.NotEqual(t, parent.ID, child.ID)
		assert.Equal(t, parent.Generation+1, child.Generation)
		assert.Equal(t, []string{parent.ID}, child.ParentIDs)
	}
}

func TestMutateFallsBackWhenServiceFails(t *testing.T) {
	gen := &testhelpers.StubGenerator{Err: errors.New("service unavailable")}
	d := NewDispatcher(gen, zerolog.Nop())
	parent := testhelpers.NewGenomeFixture("p")

	child, err := d.Mutate(context.Background(), parent, KindLogic)
	require.NoError(t, err)
	assert.NoError(t, ValidateSource(child.Source))

	// A transport error is not retried; the local path takes over immediately
	assert.Equal(t, int64(1), gen.Calls.Load())
}

func TestMutateGenerativePath(t *testing.T) {
	generated := "def generate_signal(candles, params):\n    return \"sell\"\n"
	gen := &testhelpers.StubGenerator{Text: "```python\n" + generated + "```"}
	d := NewDispatcher(gen, zerolog.Nop())
	parent := testhelpers.NewGenomeFixture("p")

	child, err := d.Mutate(context.Background(), parent, KindLogic)
	require.NoError(t, err)

	assert.Equal(t, int64(1), gen.Calls.Load())
	assert.Contains(t, child.Source, `return "sell"`)
	assert.Equal(t, parent.Parameters, child.Parameters, "service path keeps the parent's parameters")
	assert.Equal(t, parent.Generation+1, child.Generation)
}

func TestMutateRetriesWithFeedbackThenFallsBack(t *testing.T) {
	// Every response is missing the entry point, so each attempt is rejected
	gen := &recordingGenerator{responses: []string{"```python\nx = 1\n```"}}
	d := NewDispatcher(gen, zerolog.Nop(), WithMaxAttempts(3))
	parent := testhelpers.NewGenomeFixture("p")

	child, err := d.Mutate(context.Background(), parent, KindParameter)
	require.NoError(t, err)
	assert.NoError(t, ValidateSource(child.Source))

	require.Len(t, gen.prompts, 3, "retry budget must be spent before falling back")
	assert.NotContains(t, gen.prompts[0], "rejected")
	assert.Contains(t, gen.prompts[1], "rejected", "later attempts carry the validator's complaint")
	assert.Contains(t, gen.prompts[1], "entry point")
}

func TestMutateRecoversOnSecondAttempt(t *testing.T) {
	good := "```python\ndef generate_signal(candles, params):\n    return \"hold\"\n```"
	gen := &recordingGenerator{responses: []string{"not code at all", good, good}}
	d := NewDispatcher(gen, zerolog.Nop())

	child, err := d.Mutate(context.Background(), testhelpers.NewGenomeFixture("p"), KindLogic)
	require.NoError(t, err)

	assert.Len(t, gen.prompts, 2)
	assert.Contains(t, child.Source, `return "hold"`)
}

func TestExtractCodeBlock(t *testing.T) {
	fenced := "Here you go:\n```python\nx = 1\n```\ntrailing"
	assert.Equal(t, "x = 1", extractCodeBlock(fenced))

	bare := "   just text, no fence   "
	assert.Equal(t, "just text, no fence", extractCodeBlock(bare))

	unterminated := "```python\nx = 2\n"
	assert.Equal(t, "x = 2", extractCodeBlock(unterminated))
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, kind := range Kinds {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseKind("nonsense")
	assert.Error(t, err)
}
