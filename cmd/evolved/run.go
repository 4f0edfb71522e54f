package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/archive"
	"github.com/quantlab/alphaevolve/internal/config"
	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/evolution"
	"github.com/quantlab/alphaevolve/internal/gate"
	"github.com/quantlab/alphaevolve/internal/registry"
	"github.com/quantlab/alphaevolve/internal/scoring"
)

// loadProfile resolves the fitness profile: a custom YAML file when
// configured, the built-in presets otherwise.
func loadProfile(cfg *config.Config) (*scoring.Profile, error) {
	if cfg.ProfilePath != "" {
		profiles, err := scoring.LoadProfiles(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		p, ok := profiles[cfg.ProfileName]
		if !ok {
			return nil, fmt.Errorf("profile %q not found in %s", cfg.ProfileName, cfg.ProfilePath)
		}
		return p, nil
	}
	return scoring.PresetProfile(cfg.ProfileName, cfg.ProfileTier)
}

// runEvolution executes one full run: seed or resume, evolve, assess the
// final elite through the deployment gate, archive a registry snapshot.
func runEvolution(
	ctx context.Context,
	cfg *config.Config,
	log zerolog.Logger,
	repo *registry.Repository,
	engine *evolution.Engine,
	deploymentGate *gate.Gate,
	registryDB *database.DB,
	snapshotter *archive.Snapshotter,
) error {
	base, err := resumeOrSeedBase(repo, log)
	if err != nil {
		return err
	}

	population, err := engine.Seed(ctx, base)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}

	final, history, err := engine.Run(ctx, population)
	if err != nil {
		return err
	}

	for _, summary := range history {
		log.Info().
			Int("generation", summary.Generation).
			Float64("best", summary.BestFitness).
			Float64("avg", summary.AvgFitness).
			Int("ready", summary.ReadyCount).
			Int("market_diversity", summary.MarketDiversity).
			Int("excluded", summary.Excluded).
			Dur("duration", summary.Duration).
			Msg("run summary")
	}

	// The elite face the full gate; everyone else already has the cheap
	// readiness flag from the loop.
	assessed := 0
	for _, member := range final {
		if !member.Evaluated || assessed >= cfg.EliteSize {
			continue
		}
		assessed++

		report, err := deploymentGate.Assess(ctx, member.Genome.ID, member.VersionID)
		if err != nil {
			log.Warn().Err(err).Str("genome", member.Genome.ID).Msg("gate assessment failed")
			continue
		}
		log.Info().
			Str("genome", member.Genome.ID).
			Str("status", string(report.Status)).
			Float64("aggregate", report.AggregateScore).
			Str("risk_level", report.RiskLevel).
			Float64("position_fraction", report.PositionFraction).
			Msg("deployment verdict")
	}

	if snapshotter != nil {
		// Checkpoint so the snapshot file is self-contained, then upload.
		// Archival failures never fail the run.
		if err := registryDB.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Msg("WAL checkpoint before snapshot failed")
		}
		if _, err := snapshotter.Snapshot(ctx, registryDB.Path()); err != nil {
			log.Warn().Err(err).Msg("registry snapshot failed")
		}
	}

	return nil
}

// resumeOrSeedBase picks the run's base genome: the current leaderboard
// champion when the registry has one, the built-in baseline otherwise.
func resumeOrSeedBase(repo *registry.Repository, log zerolog.Logger) (domain.Genome, error) {
	entries, err := repo.Top(1, 1, "")
	if err != nil {
		return domain.Genome{}, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	if len(entries) > 0 {
		champion, err := repo.Get(entries[0].GenomeID)
		if err != nil {
			return domain.Genome{}, fmt.Errorf("failed to load champion genome: %w", err)
		}
		log.Info().Str("genome", champion.ID).Float64("fitness", champion.Fitness).Msg("resuming from champion")
		return *champion, nil
	}

	log.Info().Msg("empty registry, seeding from baseline strategy")
	return baselineGenome(), nil
}

// baselineGenome is the built-in moving-average crossover seed used when
// the registry is empty.
func baselineGenome() domain.Genome {
	return domain.Genome{
		ID:          uuid.New().String(),
		Name:        "baseline-crossover",
		Description: "SMA crossover with fixed fractional stop",
		Source: `def generate_signal(candles, params):
    closes = [c["close"] for c in candles]
    fast = int(params["fast_period"])
    slow = int(params["slow_period"])
    if len(closes) < slow + 1:
        return "hold"
    fast_ma = sum(closes[-fast:]) / fast
    slow_ma = sum(closes[-slow:]) / slow
    prev_fast = sum(closes[-fast-1:-1]) / fast
    prev_slow = sum(closes[-slow-1:-1]) / slow
    if prev_fast <= prev_slow and fast_ma > slow_ma:
        return "buy"
    if prev_fast >= prev_slow and fast_ma < slow_ma:
        return "sell"
    return "hold"
`,
		Parameters: map[string]float64{
			"fast_period":   9,
			"slow_period":   21,
			"stop_loss":     0.02,
			"risk_fraction": 0.01,
		},
		Generation: 0,
	}
}
