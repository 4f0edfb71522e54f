package evaluator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/registry"
)

// DefaultWorkerBudget bounds concurrently in-flight per-market evaluations
// across the whole process.
const DefaultWorkerBudget = 4

// AllMarketsFailedError is returned when not a single market produced a
// record for a candidate. Single-market failures are isolated; only this is
// a candidate-level failure.
type AllMarketsFailedError struct {
	VersionID string
	Reasons   []string
}

func (e *AllMarketsFailedError) Error() string {
	return fmt.Sprintf("all %d markets failed for version %s: %v", len(e.Reasons), e.VersionID, e.Reasons)
}

// RecordScorer maps a single metrics record to the fitness contribution the
// registry stores alongside it. The composite scorer provides this.
type RecordScorer func(domain.MetricsRecord) float64

// Candidate identifies one (genome, version) pair in a batch.
type Candidate struct {
	GenomeID  string
	VersionID string
}

// Evaluator runs candidates against markets under one global worker budget.
type Evaluator struct {
	repo     *registry.Repository
	cache    *marketdata.Cache
	exec     Executor
	score    RecordScorer
	workers  *semaphore.Weighted
	stageDir string
	timeout  time.Duration
	log      zerolog.Logger
}

// Config holds evaluator construction parameters. WorkerBudget is explicit
// and testable; zero means DefaultWorkerBudget.
type Config struct {
	WorkerBudget int
	StageDir     string        // where candidate data files are materialized
	ExecTimeout  time.Duration // per-market executor timeout
}

// New creates an evaluator.
func New(repo *registry.Repository, cache *marketdata.Cache, exec Executor, score RecordScorer, cfg Config, log zerolog.Logger) *Evaluator {
	budget := cfg.WorkerBudget
	if budget <= 0 {
		budget = DefaultWorkerBudget
	}

	return &Evaluator{
		repo:     repo,
		cache:    cache,
		exec:     exec,
		score:    score,
		workers:  semaphore.NewWeighted(int64(budget)),
		stageDir: cfg.StageDir,
		timeout:  cfg.ExecTimeout,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate runs one candidate version against the target markets (default: a
// diversity sample of the universe) and returns the aggregated result.
//
// Per-market results complete in arbitrary order; aggregation is a
// commutative reduction over the completed set, so the outcome is
// independent of scheduling. The call fails only when every market fails.
// Each successful record is appended to the registry together with its
// aggregate update; a registry write failure is structural and propagates.
func (ev *Evaluator) Evaluate(ctx context.Context, genomeID, versionID string, markets []domain.MarketConfig) (*domain.AggregatedMetrics, error) {
	version, err := ev.repo.GetVersion(versionID)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate unknown version: %w", err)
	}
	if version.GenomeID != genomeID {
		return nil, fmt.Errorf("version %s does not belong to genome %s", versionID, genomeID)
	}

	if len(markets) == 0 {
		markets = domain.DiversitySample(domain.Universe, domain.DefaultMarketSampleSize)
	}

	type marketOutcome struct {
		record domain.MetricsRecord
		err    error
		market string
	}

	outcomes := make(chan marketOutcome, len(markets))
	var wg sync.WaitGroup

	for _, market := range markets {
		wg.Add(1)
		go func(m domain.MarketConfig) {
			defer wg.Done()

			if err := ev.workers.Acquire(ctx, 1); err != nil {
				outcomes <- marketOutcome{err: fmt.Errorf("cancelled before start: %w", err), market: m.Key()}
				return
			}
			defer ev.workers.Release(1)

			rec, err := ev.evaluateMarket(ctx, version, m)
			outcomes <- marketOutcome{record: rec, err: err, market: m.Key()}
		}(market)
	}

	wg.Wait()
	close(outcomes)

	var records []domain.MetricsRecord
	var failed []string
	var reasons []string
	for out := range outcomes {
		if out.err != nil {
			ev.log.Warn().Err(out.err).
				Str("version", versionID).
				Str("market", out.market).
				Msg("market evaluation failed")
			failed = append(failed, out.market)
			reasons = append(reasons, fmt.Sprintf("%s: %v", out.market, out.err))
			continue
		}
		records = append(records, out.record)
	}

	if len(records) == 0 {
		sort.Strings(reasons)
		return nil, &AllMarketsFailedError{VersionID: versionID, Reasons: reasons}
	}

	// Sort before recording and reducing so persistence order and the
	// floating-point reduction are identical regardless of completion order.
	sort.Slice(records, func(i, j int) bool { return records[i].Market < records[j].Market })

	for _, rec := range records {
		if err := ev.repo.RecordMetrics(genomeID, versionID, rec, ev.score(rec)); err != nil {
			// Losing lineage data is worse than losing a generation.
			return nil, fmt.Errorf("registry write failed for %s on %s: %w", versionID, rec.Market, err)
		}
	}

	agg := domain.Aggregate(genomeID, versionID, records)
	sort.Strings(failed)
	agg.FailedMarkets = failed
	return &agg, nil
}

// evaluateMarket produces one metrics record: fetch data, materialize the
// candidate, run the executor, validate the output.
func (ev *Evaluator) evaluateMarket(ctx context.Context, version *registry.Version, market domain.MarketConfig) (domain.MetricsRecord, error) {
	series, err := ev.cache.Get(ctx, market)
	if err != nil {
		return domain.MetricsRecord{}, fmt.Errorf("market data unavailable: %w", err)
	}

	// Staged under a per-version directory so concurrent candidates on the
	// same market never share a file.
	dataPath, err := series.WriteCSV(filepath.Join(ev.stageDir, version.ID))
	if err != nil {
		return domain.MetricsRecord{}, fmt.Errorf("failed to materialize market data: %w", err)
	}

	result, err := ev.exec.Run(ctx, ExecRequest{
		CandidateID: version.ID,
		Source:      version.Source,
		Parameters:  version.Parameters,
		DataPath:    dataPath,
		Market:      market,
		Timeout:     ev.timeout,
	})
	if err != nil {
		return domain.MetricsRecord{}, err
	}

	rec := result.Record
	rec.GenomeID = version.GenomeID
	rec.VersionID = version.ID
	if rec.Market == "" {
		rec.Market = market.Key()
	}
	if rec.Timeframe == "" {
		rec.Timeframe = market.Timeframe
	}

	if err := rec.Validate(); err != nil {
		return domain.MetricsRecord{}, fmt.Errorf("executor produced invalid metrics: %w", err)
	}
	return rec, nil
}

// BatchEvaluate evaluates an entire population under the same global worker
// budget. Per-candidate failures (all markets failed, generation timeout)
// are logged and excluded; a missing map entry means "unscored, drop from
// selection this generation". A structural failure - a registry write error -
// aborts the batch instead, because continuing would silently lose lineage
// data.
func (ev *Evaluator) BatchEvaluate(ctx context.Context, population []Candidate, markets []domain.MarketConfig) (map[Candidate]domain.AggregatedMetrics, error) {
	results := make(map[Candidate]domain.AggregatedMetrics, len(population))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var structural error

	for _, cand := range population {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()

			agg, err := ev.Evaluate(ctx, c.GenomeID, c.VersionID, markets)
			if err != nil {
				var allFailed *AllMarketsFailedError
				if errors.As(err, &allFailed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					ev.log.Warn().Err(err).
						Str("genome", c.GenomeID).
						Str("version", c.VersionID).
						Msg("candidate excluded from this generation")
					return
				}

				mu.Lock()
				if structural == nil {
					structural = err
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			results[c] = *agg
			mu.Unlock()
		}(cand)
	}

	wg.Wait()
	if structural != nil {
		return nil, fmt.Errorf("batch evaluation aborted: %w", structural)
	}
	return results, nil
}
