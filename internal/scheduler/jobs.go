package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/marketdata"
)

// EvolutionRunJob triggers one full evolution run. Overlap protection lives
// in the run function itself (the same one the HTTP trigger uses).
type EvolutionRunJob struct {
	run func(ctx context.Context) error
	log zerolog.Logger
}

// NewEvolutionRunJob creates the scheduled run job.
func NewEvolutionRunJob(run func(ctx context.Context) error, log zerolog.Logger) *EvolutionRunJob {
	return &EvolutionRunJob{run: run, log: log.With().Str("job", "evolution_run").Logger()}
}

func (j *EvolutionRunJob) Name() string { return "evolution_run" }

// Run starts a run under the scheduler's context, so a shutdown cancels a
// scheduled run the same way it cancels an HTTP-triggered one.
func (j *EvolutionRunJob) Run(ctx context.Context) error {
	if err := j.run(ctx); err != nil {
		return fmt.Errorf("scheduled evolution run failed: %w", err)
	}
	return nil
}

// CachePurgeJob evicts expired market data so the cache database does not
// grow unbounded between runs.
type CachePurgeJob struct {
	cache *marketdata.Cache
	log   zerolog.Logger
}

// NewCachePurgeJob creates the cache maintenance job.
func NewCachePurgeJob(cache *marketdata.Cache, log zerolog.Logger) *CachePurgeJob {
	return &CachePurgeJob{cache: cache, log: log.With().Str("job", "cache_purge").Logger()}
}

func (j *CachePurgeJob) Name() string { return "cache_purge" }

func (j *CachePurgeJob) Run(_ context.Context) error {
	removed, err := j.cache.Purge()
	if err != nil {
		return fmt.Errorf("cache purge failed: %w", err)
	}
	j.log.Info().Int64("removed", removed).Msg("purged expired cache entries")
	return nil
}
