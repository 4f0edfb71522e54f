package evaluator_test

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/evaluator"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/registry"
	testhelpers "github.com/quantlab/alphaevolve/internal/testing"
)

type harness struct {
	repo  *registry.Repository
	cache *marketdata.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	regDB, regCleanup := testhelpers.NewTestDB(t, "eval_registry")
	t.Cleanup(regCleanup)
	repo, err := registry.NewRepository(regDB, zerolog.Nop())
	require.NoError(t, err)

	cacheDB, cacheCleanup := testhelpers.NewTestDB(t, "eval_cache")
	t.Cleanup(cacheCleanup)
	cache, err := marketdata.NewCache(cacheDB, &testhelpers.StubFetcher{}, time.Hour, zerolog.Nop())
	require.NoError(t, err)

	return &harness{repo: repo, cache: cache}
}

func (h *harness) evaluator(t *testing.T, exec evaluator.Executor, workers int) *evaluator.Evaluator {
	t.Helper()
	score := func(rec domain.MetricsRecord) float64 { return rec.SharpeRatio }
	return evaluator.New(h.repo, h.cache, exec, score, evaluator.Config{
		WorkerBudget: workers,
		StageDir:     t.TempDir(),
	}, zerolog.Nop())
}

func (h *harness) candidate(t *testing.T, name string) evaluator.Candidate {
	t.Helper()
	g := testhelpers.NewGenomeFixture(name)
	g.Name = name
	id, err := h.repo.Save(g, "")
	require.NoError(t, err)
	v, err := h.repo.CreateVersion(id, g.Source+"\n# "+name+"\n", g.Parameters, "")
	require.NoError(t, err)
	return evaluator.Candidate{GenomeID: id, VersionID: v.ID}
}

func TestEvaluateAggregatesAcrossMarkets(t *testing.T) {
	h := newHarness(t)
	exec := &testhelpers.StubExecutor{Record: testhelpers.NewRecordFixture("", "")}
	ev := h.evaluator(t, exec, 4)
	cand := h.candidate(t, "agg")
	markets := testhelpers.MarketFixtures(3)

	agg, err := ev.Evaluate(context.Background(), cand.GenomeID, cand.VersionID, markets)
	require.NoError(t, err)

	assert.Len(t, agg.MarketsTested, 3)
	assert.Empty(t, agg.FailedMarkets)
	assert.Equal(t, 3*42, agg.NumTrades)

	records, err := h.repo.RecordsForVersion(cand.VersionID)
	require.NoError(t, err)
	assert.Len(t, records, 3, "every successful record is persisted")
}

func TestEvaluateIsolatesSingleMarketFailure(t *testing.T) {
	h := newHarness(t)
	markets := testhelpers.MarketFixtures(3)
	exec := &testhelpers.StubExecutor{
		Record: testhelpers.NewRecordFixture("", ""),
		Fail:   map[string]bool{markets[1].Key(): true},
	}
	ev := h.evaluator(t, exec, 4)
	cand := h.candidate(t, "isolate")

	agg, err := ev.Evaluate(context.Background(), cand.GenomeID, cand.VersionID, markets)
	require.NoError(t, err, "one failed market must not fail the candidate")

	assert.Len(t, agg.MarketsTested, 2)
	assert.Equal(t, []string{markets[1].Key()}, agg.FailedMarkets)
}

func TestEvaluateAllMarketsFailed(t *testing.T) {
	h := newHarness(t)
	markets := testhelpers.MarketFixtures(2)
	exec := &testhelpers.StubExecutor{
		Record: testhelpers.NewRecordFixture("", ""),
		Fail:   map[string]bool{markets[0].Key(): true, markets[1].Key(): true},
	}
	ev := h.evaluator(t, exec, 4)
	cand := h.candidate(t, "doomed")

	_, err := ev.Evaluate(context.Background(), cand.GenomeID, cand.VersionID, markets)

	var allFailed *evaluator.AllMarketsFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Len(t, allFailed.Reasons, 2)
}

func TestEvaluateRejectsUnknownVersion(t *testing.T) {
	h := newHarness(t)
	ev := h.evaluator(t, &testhelpers.StubExecutor{Record: testhelpers.NewRecordFixture("", "")}, 4)

	_, err := ev.Evaluate(context.Background(), "g", "missing-version", testhelpers.MarketFixtures(1))
	assert.Error(t, err)
}

func TestEvaluateRejectsForeignVersion(t *testing.T) {
	h := newHarness(t)
	ev := h.evaluator(t, &testhelpers.StubExecutor{Record: testhelpers.NewRecordFixture("", "")}, 4)
	a := h.candidate(t, "a")
	b := h.candidate(t, "b")

	_, err := ev.Evaluate(context.Background(), a.GenomeID, b.VersionID, testhelpers.MarketFixtures(1))
	assert.ErrorContains(t, err, "does not belong")
}

// varyingExecutor derives metrics deterministically from the candidate and
// market so different candidates are distinguishable in batch results.
type varyingExecutor struct{}

func (varyingExecutor) Run(_ context.Context, req evaluator.ExecRequest) (*evaluator.ExecResult, error) {
	h := fnv.New32a()
	h.Write([]byte(req.CandidateID))
	h.Write([]byte(req.Market.Key()))
	unit := float64(h.Sum32()%1000) / 1000.0

	rec := testhelpers.NewRecordFixture(req.Market.Key(), req.Market.Timeframe)
	rec.SharpeRatio = 0.5 + 2*unit
	rec.TotalPnL = 100 + 5000*unit
	rec.WinRate = 0.4 + 0.3*unit
	return &evaluator.ExecResult{Record: rec}, nil
}

func TestBatchEvaluateWorkerBudgetInvariance(t *testing.T) {
	h := newHarness(t)
	markets := testhelpers.MarketFixtures(3)

	population := make([]evaluator.Candidate, 20)
	for i := range population {
		population[i] = h.candidate(t, fmt.Sprintf("cand-%d", i))
	}

	serial := h.evaluator(t, varyingExecutor{}, 1)
	parallel := h.evaluator(t, varyingExecutor{}, 4)

	got1, err := serial.BatchEvaluate(context.Background(), population, markets)
	require.NoError(t, err)
	got4, err := parallel.BatchEvaluate(context.Background(), population, markets)
	require.NoError(t, err)

	require.Len(t, got1, len(population))
	require.Len(t, got4, len(population))

	// Identical aggregates regardless of how many workers ran the batch
	for cand, a := range got1 {
		b, ok := got4[cand]
		require.True(t, ok)
		assert.Equal(t, a.MarketsTested, b.MarketsTested)
		assert.InDelta(t, a.SharpeRatio, b.SharpeRatio, 1e-12)
		assert.InDelta(t, a.WinRate, b.WinRate, 1e-12)
		assert.InDelta(t, a.TotalPnL, b.TotalPnL, 1e-12)
		assert.Equal(t, a.NumTrades, b.NumTrades)
	}
}

// stagingExecutor records the data path each candidate was handed.
type stagingExecutor struct {
	mu    sync.Mutex
	paths map[string]string
}

func (s *stagingExecutor) Run(_ context.Context, req evaluator.ExecRequest) (*evaluator.ExecResult, error) {
	s.mu.Lock()
	if s.paths == nil {
		s.paths = map[string]string{}
	}
	s.paths[req.CandidateID] = req.DataPath
	s.mu.Unlock()

	rec := testhelpers.NewRecordFixture(req.Market.Key(), req.Market.Timeframe)
	return &evaluator.ExecResult{Record: rec}, nil
}

func TestBatchEvaluateStagesDataPerCandidate(t *testing.T) {
	h := newHarness(t)
	a := h.candidate(t, "stage-a")
	b := h.candidate(t, "stage-b")

	exec := &stagingExecutor{}
	ev := h.evaluator(t, exec, 4)

	// Same market for both candidates: the staged files must still differ
	markets := testhelpers.MarketFixtures(1)
	results, err := ev.BatchEvaluate(context.Background(), []evaluator.Candidate{a, b}, markets)
	require.NoError(t, err)
	require.Len(t, results, 2)

	pathA := exec.paths[a.VersionID]
	pathB := exec.paths[b.VersionID]
	require.NotEmpty(t, pathA)
	require.NotEmpty(t, pathB)
	assert.NotEqual(t, pathA, pathB, "concurrent candidates must not share a staged file")
	assert.True(t, strings.Contains(pathA, a.VersionID))
	assert.True(t, strings.Contains(pathB, b.VersionID))
}

// perVersionExecutor fails every market for the versions listed in bad.
type perVersionExecutor struct {
	bad map[string]bool
}

func (p perVersionExecutor) Run(_ context.Context, req evaluator.ExecRequest) (*evaluator.ExecResult, error) {
	if p.bad[req.CandidateID] {
		return nil, errors.New("candidate crashed")
	}
	rec := testhelpers.NewRecordFixture(req.Market.Key(), req.Market.Timeframe)
	return &evaluator.ExecResult{Record: rec}, nil
}

func TestBatchEvaluateExcludesFailedCandidates(t *testing.T) {
	h := newHarness(t)
	good := h.candidate(t, "good")
	bad := h.candidate(t, "bad")

	exec := perVersionExecutor{bad: map[string]bool{bad.VersionID: true}}
	ev := h.evaluator(t, exec, 4)

	results, err := ev.BatchEvaluate(context.Background(), []evaluator.Candidate{good, bad}, testhelpers.MarketFixtures(2))
	require.NoError(t, err, "a fully failed candidate is excluded, not fatal")

	assert.Contains(t, results, good)
	assert.NotContains(t, results, bad)
}

func TestBatchEvaluateAbortsOnStructuralFailure(t *testing.T) {
	regDB, regCleanup := testhelpers.NewTestDB(t, "eval_structural")
	repo, err := registry.NewRepository(regDB, zerolog.Nop())
	require.NoError(t, err)

	cacheDB, cacheCleanup := testhelpers.NewTestDB(t, "eval_structural_cache")
	t.Cleanup(cacheCleanup)
	cache, err := marketdata.NewCache(cacheDB, &testhelpers.StubFetcher{}, time.Hour, zerolog.Nop())
	require.NoError(t, err)

	g := testhelpers.NewGenomeFixture("g")
	id, err := repo.Save(g, "")
	require.NoError(t, err)
	v, err := repo.CreateVersion(id, g.Source, g.Parameters, "")
	require.NoError(t, err)

	ev := evaluator.New(repo, cache, &testhelpers.StubExecutor{Record: testhelpers.NewRecordFixture("", "")},
		func(domain.MetricsRecord) float64 { return 0 },
		evaluator.Config{WorkerBudget: 2, StageDir: t.TempDir()}, zerolog.Nop())

	// A dead registry is a structural failure: the whole batch aborts
	regCleanup()

	_, err = ev.BatchEvaluate(context.Background(), []evaluator.Candidate{{GenomeID: id, VersionID: v.ID}}, testhelpers.MarketFixtures(1))
	require.Error(t, err)
	assert.ErrorContains(t, err, "batch evaluation aborted")
}
