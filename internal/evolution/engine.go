// Package evolution drives the generational search loop: evaluate, score,
// rank, select, reproduce.
package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/evaluator"
	"github.com/quantlab/alphaevolve/internal/mutation"
	"github.com/quantlab/alphaevolve/internal/registry"
	"github.com/quantlab/alphaevolve/internal/scoring"
)

// Defaults for the loop parameters. All of them are overridable through
// Config.
const (
	DefaultPopulationSize = 12
	DefaultEliteSize      = 2
	DefaultMutationRate   = 0.8
	DefaultPatience       = 5
	DefaultMaxGenerations = 20
)

// Member is one genome in the live population together with its current
// version and last evaluated fitness.
type Member struct {
	Genome    domain.Genome
	VersionID string
	Fitness   float64
	Ready     bool
	Evaluated bool
}

// Summary records the audit trail of one generation. Nothing that failed or
// was excluded is dropped silently: counts and reasons are kept here.
type Summary struct {
	Generation      int
	BestFitness     float64
	AvgFitness      float64
	ReadyCount      int
	MarketDiversity int
	Evaluated       int
	Excluded        int
	ExcludedReasons []string
	Duration        time.Duration
}

// Config holds the loop parameters. Zero values fall back to the package
// defaults; Markets empty means the evaluator's diversity sample.
type Config struct {
	PopulationSize    int
	EliteSize         int
	MutationRate      float64
	Patience          int
	MaxGenerations    int
	GenerationTimeout time.Duration // cap on one generation's evaluation; 0 disables
	Markets           []domain.MarketConfig
	Seed              int64 // rng seed; 0 means time-based
}

func (c Config) withDefaults() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = DefaultPopulationSize
	}
	if c.EliteSize <= 0 {
		c.EliteSize = DefaultEliteSize
	}
	if c.EliteSize >= c.PopulationSize {
		c.EliteSize = c.PopulationSize - 1
	}
	if c.MutationRate <= 0 {
		c.MutationRate = DefaultMutationRate
	}
	if c.Patience <= 0 {
		c.Patience = DefaultPatience
	}
	if c.MaxGenerations <= 0 {
		c.MaxGenerations = DefaultMaxGenerations
	}
	return c
}

// Engine runs the evolutionary search over a registry-backed population.
type Engine struct {
	repo       *registry.Repository
	dispatcher *mutation.Dispatcher
	eval       *evaluator.Evaluator
	profile    *scoring.Profile
	cfg        Config
	rng        *rand.Rand
	log        zerolog.Logger
}

// New creates an engine. The profile must already be validated.
func New(repo *registry.Repository, dispatcher *mutation.Dispatcher, eval *evaluator.Evaluator, profile *scoring.Profile, cfg Config, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Engine{
		repo:       repo,
		dispatcher: dispatcher,
		eval:       eval,
		profile:    profile,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		log:        log.With().Str("component", "evolution").Logger(),
	}
}

// Seed builds the initial population: the base genome verbatim plus N−1
// parameter variants produced through the dispatcher, every one persisted
// with its first version.
func (e *Engine) Seed(ctx context.Context, base domain.Genome) ([]Member, error) {
	population := make([]Member, 0, e.cfg.PopulationSize)

	member, err := e.persist(base, "seed: base genome")
	if err != nil {
		return nil, err
	}
	population = append(population, member)

	for i := 1; i < e.cfg.PopulationSize; i++ {
		// Vary the variant lineage so the deterministic fallback jitter
		// produces distinct children from the same base.
		parent := base.Clone()
		parent.ID = fmt.Sprintf("%s#%d", base.ID, i)
		parent.Name = base.Name

		child, err := e.dispatcher.Mutate(ctx, parent, mutation.KindParameter)
		if err != nil {
			return nil, fmt.Errorf("failed to seed variant %d: %w", i, err)
		}
		child.Generation = base.Generation
		child.ParentIDs = nil

		m, err := e.persist(child, fmt.Sprintf("seed: variant %d", i))
		if err != nil {
			return nil, err
		}
		population = append(population, m)
	}

	e.log.Info().Int("population", len(population)).Msg("seeded initial population")
	return population, nil
}

// persist saves a genome and its initial version, returning the member.
func (e *Engine) persist(g domain.Genome, note string) (Member, error) {
	id, err := e.repo.Save(g, note)
	if err != nil {
		return Member{}, fmt.Errorf("failed to save genome: %w", err)
	}
	g.ID = id

	version, err := e.repo.CreateVersion(id, g.Source, g.Parameters, note)
	if err != nil {
		return Member{}, fmt.Errorf("failed to create initial version: %w", err)
	}

	return Member{Genome: g, VersionID: version.ID}, nil
}

// Run executes generations until the best fitness stops improving for
// Patience consecutive generations or MaxGenerations is reached. It returns
// the final population and the per-generation summary history.
func (e *Engine) Run(ctx context.Context, population []Member) ([]Member, []Summary, error) {
	if len(population) == 0 {
		return nil, nil, fmt.Errorf("cannot run with an empty population")
	}

	var history []Summary
	bestSoFar := -1.0
	stagnant := 0

	for gen := 1; gen <= e.cfg.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return population, history, err
		}

		next, summary, err := e.runGeneration(ctx, gen, population)
		if err != nil {
			return population, history, fmt.Errorf("generation %d aborted: %w", gen, err)
		}
		population = next
		history = append(history, summary)

		e.log.Info().
			Int("generation", gen).
			Float64("best_fitness", summary.BestFitness).
			Float64("avg_fitness", summary.AvgFitness).
			Int("ready", summary.ReadyCount).
			Int("excluded", summary.Excluded).
			Msg("generation complete")

		if summary.BestFitness > bestSoFar {
			bestSoFar = summary.BestFitness
			stagnant = 0
		} else {
			stagnant++
			if stagnant >= e.cfg.Patience {
				e.log.Info().Int("generation", gen).Int("patience", e.cfg.Patience).Msg("stopping: no improvement")
				break
			}
		}
	}

	return population, history, nil
}

// runGeneration performs one full evaluate → score → rank → select →
// reproduce cycle. The returned population has the same size as the input.
func (e *Engine) runGeneration(ctx context.Context, gen int, population []Member) ([]Member, Summary, error) {
	start := time.Now()

	candidates := make([]evaluator.Candidate, len(population))
	for i, m := range population {
		candidates[i] = evaluator.Candidate{GenomeID: m.Genome.ID, VersionID: m.VersionID}
	}

	// The deadline covers evaluation only. Candidates still in flight when
	// it expires are excluded; their already-persisted market records stay.
	evalCtx := ctx
	if e.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
	}

	results, err := e.eval.BatchEvaluate(evalCtx, candidates, e.cfg.Markets)
	if err != nil {
		return nil, Summary{}, err
	}

	summary := Summary{Generation: gen}
	markets := map[string]struct{}{}

	scored := make([]Member, 0, len(population))
	for i, m := range population {
		agg, ok := results[candidates[i]]
		if !ok {
			summary.Excluded++
			summary.ExcludedReasons = append(summary.ExcludedReasons,
				fmt.Sprintf("%s: no markets produced a result", m.Genome.Name))
			continue
		}

		m.Fitness = scoring.Score(agg, e.profile)
		m.Evaluated = true
		m.Genome.Fitness = m.Fitness

		ready, reasons := scoring.IsDeploymentReady(m.Fitness, agg, e.profile)
		m.Ready = ready
		if ready {
			summary.ReadyCount++
		} else {
			summary.ExcludedReasons = append(summary.ExcludedReasons,
				fmt.Sprintf("%s: not deployment-ready: %v", m.Genome.Name, reasons))
		}

		if err := e.repo.SetFitness(m.Genome.ID, m.Fitness); err != nil {
			return nil, Summary{}, fmt.Errorf("failed to persist fitness for %s: %w", m.Genome.ID, err)
		}
		if err := e.repo.MarkReady(m.Genome.ID, m.VersionID, ready, m.Fitness); err != nil {
			return nil, Summary{}, fmt.Errorf("failed to persist readiness for %s: %w", m.Genome.ID, err)
		}

		for _, mk := range agg.MarketsTested {
			markets[mk] = struct{}{}
		}
		scored = append(scored, m)
	}

	if len(scored) == 0 {
		return nil, Summary{}, fmt.Errorf("every candidate was excluded in generation %d", gen)
	}

	rank(scored)

	summary.Evaluated = len(scored)
	summary.MarketDiversity = len(markets)
	summary.BestFitness = scored[0].Fitness
	summary.AvgFitness = avgFitness(scored)
	sort.Strings(summary.ExcludedReasons)

	next, err := e.reproduce(ctx, scored)
	if err != nil {
		return nil, Summary{}, err
	}

	summary.Duration = time.Since(start)
	return next, summary, nil
}

// rank orders members by fitness descending, ties broken by genome id so
// the ordering is total and reproducible.
func rank(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Fitness != members[j].Fitness {
			return members[i].Fitness > members[j].Fitness
		}
		return members[i].Genome.ID < members[j].Genome.ID
	})
}

func avgFitness(members []Member) float64 {
	total := 0.0
	for _, m := range members {
		total += m.Fitness
	}
	return total / float64(len(members))
}

// reproduce fills the next generation back up to the configured population
// size: the elite carry over verbatim (same genome, same version), the
// remaining slots are children of tournament-selected parents from the top
// half, mutated with probability MutationRate or carried forward otherwise.
func (e *Engine) reproduce(ctx context.Context, ranked []Member) ([]Member, error) {
	next := make([]Member, 0, e.cfg.PopulationSize)

	elite := e.cfg.EliteSize
	if elite > len(ranked) {
		elite = len(ranked)
	}
	next = append(next, ranked[:elite]...)

	half := (len(ranked) + 1) / 2
	pool := ranked[:half]
	tournamentSize := half
	if tournamentSize > 4 {
		tournamentSize = 4
	}

	for len(next) < e.cfg.PopulationSize {
		parent := e.tournament(pool, tournamentSize)

		if e.rng.Float64() >= e.cfg.MutationRate {
			// Carried forward unchanged, same version
			next = append(next, parent)
			continue
		}

		kind := mutation.Kinds[e.rng.Intn(len(mutation.Kinds))]
		child, err := e.dispatcher.Mutate(ctx, parent.Genome, kind)
		if err != nil {
			return nil, fmt.Errorf("mutation failed: %w", err)
		}

		member, err := e.persist(child, fmt.Sprintf("%s mutation of %s", kind, parent.Genome.Name))
		if err != nil {
			return nil, err
		}
		next = append(next, member)
	}

	return next, nil
}

// tournament picks the fittest of k random pool members.
func (e *Engine) tournament(pool []Member, k int) Member {
	best := pool[e.rng.Intn(len(pool))]
	for i := 1; i < k; i++ {
		challenger := pool[e.rng.Intn(len(pool))]
		if challenger.Fitness > best.Fitness ||
			(challenger.Fitness == best.Fitness && challenger.Genome.ID < best.Genome.ID) {
			best = challenger
		}
	}
	return best
}
