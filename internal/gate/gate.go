package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/registry"
)

// Gate runs the four robustness stages over a candidate's recorded metrics
// and renders the final deployment decision, writing the readiness flag
// back to the registry.
type Gate struct {
	repo   *registry.Repository
	runner WalkForwardRunner
	coeff  Coefficients
	log    zerolog.Logger
}

// New creates a gate. runner may be nil, in which case the walk-forward
// stage fails its critical check and the candidate can at best be rejected
// with evidence, never silently approved.
func New(repo *registry.Repository, runner WalkForwardRunner, coeff Coefficients, log zerolog.Logger) *Gate {
	return &Gate{
		repo:   repo,
		runner: runner,
		coeff:  coeff,
		log:    log.With().Str("component", "gate").Logger(),
	}
}

// Assess runs all stages for one candidate version and persists the
// verdict. The version must already have recorded metrics; an unevaluated
// candidate cannot be assessed.
func (g *Gate) Assess(ctx context.Context, genomeID, versionID string) (*ReadinessReport, error) {
	version, err := g.repo.GetVersion(versionID)
	if err != nil {
		return nil, fmt.Errorf("cannot assess unknown version: %w", err)
	}
	if version.GenomeID != genomeID {
		return nil, fmt.Errorf("version %s does not belong to genome %s", versionID, genomeID)
	}

	records, err := g.repo.RecordsForVersion(versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("version %s has no recorded metrics to assess", versionID)
	}

	stages := []StageResult{
		consistencyStage(records, g.coeff),
		profitQualityStage(records, g.coeff),
		walkForwardStage(g.collectWindows(ctx, version, records), g.coeff),
		robustnessStage(records, g.coeff),
	}

	status, aggregate := decide(stages, g.coeff)

	agg := domain.Aggregate(genomeID, versionID, records)
	riskLevel, fraction := positionSize(agg.MaxDrawdown, agg.WinRate, agg.ProfitFactor, g.coeff)
	if status == StatusRejected || status == StatusNeedsImprovement {
		fraction = 0
	}

	report := &ReadinessReport{
		GenomeID:         genomeID,
		VersionID:        versionID,
		Status:           status,
		AggregateScore:   aggregate,
		Stages:           stages,
		RiskLevel:        riskLevel,
		PositionFraction: fraction,
		AssessedAt:       time.Now().UTC(),
	}

	if err := g.repo.MarkReady(genomeID, versionID, status == StatusApproved, aggregate); err != nil {
		return nil, fmt.Errorf("failed to persist readiness verdict: %w", err)
	}

	g.log.Info().
		Str("genome", genomeID).
		Str("version", versionID).
		Str("status", string(status)).
		Float64("aggregate", aggregate).
		Int("failed_checks", len(report.FailedChecks())).
		Msg("assessment complete")

	return report, nil
}

// collectWindows runs the walk-forward runner over every market the
// candidate was evaluated on. Per-market failures are logged and skipped;
// an empty result set fails the stage's critical check downstream.
func (g *Gate) collectWindows(ctx context.Context, version *registry.Version, records []domain.MetricsRecord) []WindowResult {
	if g.runner == nil {
		return nil
	}

	seen := map[string]struct{}{}
	var windows []WindowResult
	for _, rec := range records {
		if _, ok := seen[rec.Market]; ok {
			continue
		}
		seen[rec.Market] = struct{}{}

		market, ok := marketByKey(rec.Market)
		if !ok {
			g.log.Warn().Str("market", rec.Market).Msg("record references a market outside the universe, skipping walk-forward")
			continue
		}

		result, err := g.runner.Windows(ctx, version, market, g.coeff.WalkForwardWindows)
		if err != nil {
			g.log.Warn().Err(err).Str("market", rec.Market).Msg("walk-forward failed for market")
			continue
		}
		windows = append(windows, result...)
	}
	return windows
}

// marketByKey resolves a record's market key back to its universe config.
func marketByKey(key string) (domain.MarketConfig, bool) {
	for _, m := range domain.Universe {
		if m.Key() == key {
			return m, true
		}
	}
	return domain.MarketConfig{}, false
}
