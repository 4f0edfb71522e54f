// Package main is the entry point for the alphaevolve trading-signal search
// daemon. It wires the candidate registry, market data cache, mutation
// dispatcher, concurrent evaluator, evolutionary loop and deployment gate,
// exposes the HTTP control API, and optionally runs evolution on a schedule.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quantlab/alphaevolve/internal/archive"
	"github.com/quantlab/alphaevolve/internal/clients/gemini"
	"github.com/quantlab/alphaevolve/internal/config"
	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/evaluator"
	"github.com/quantlab/alphaevolve/internal/evolution"
	"github.com/quantlab/alphaevolve/internal/gate"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/mutation"
	"github.com/quantlab/alphaevolve/internal/registry"
	"github.com/quantlab/alphaevolve/internal/scheduler"
	"github.com/quantlab/alphaevolve/internal/server"
	"github.com/quantlab/alphaevolve/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog, _ := logger.New("info", true)
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		fallbackLog, _ := logger.New("info", true)
		fallbackLog.Fatal().Err(err).Msg("Invalid logging configuration")
	}

	log.Info().Msg("Starting alphaevolve")

	// Registry gets the ledger profile: lineage and metrics are the audit
	// trail and survive power loss. The market data cache is rebuildable
	// and gets the speed profile.
	registryDB, err := database.New(database.Config{
		Path:    cfg.RegistryPath(),
		Profile: database.ProfileLedger,
		Name:    "registry",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open registry database")
	}
	defer registryDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CachePath(),
		Profile: database.ProfileCache,
		Name:    "marketdata",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	repo, err := registry.NewRepository(registryDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize registry")
	}

	fetcher := marketdata.NewCSVFetcher(cfg.MarketDataDir)
	cache, err := marketdata.NewCache(cacheDB, fetcher, cfg.CacheTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market data cache")
	}

	profile, err := loadProfile(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load fitness profile")
	}
	log.Info().Str("profile", profile.Name).Str("tier", profile.Tier).Msg("Fitness profile loaded")

	// Without an API key the dispatcher runs fallback-only, which is a
	// fully supported mode: the local transformations never fail.
	var generator mutation.Generator
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize generative client")
		}
		generator = client
	} else {
		log.Warn().Msg("No generative API key configured, mutations use local fallbacks only")
	}
	dispatcher := mutation.NewDispatcher(generator, log)

	exec := evaluator.NewProcessExecutor(cfg.ExecutorBinary, cfg.StageDir(), log)
	eval := evaluator.New(repo, cache, exec, profile.ScoreRecord, evaluator.Config{
		WorkerBudget: cfg.WorkerBudget,
		StageDir:     cfg.StageDir(),
		ExecTimeout:  cfg.ExecTimeout,
	}, log)

	engine := evolution.New(repo, dispatcher, eval, profile, evolution.Config{
		PopulationSize:    cfg.PopulationSize,
		EliteSize:         cfg.EliteSize,
		MutationRate:      cfg.MutationRate,
		Patience:          cfg.Patience,
		MaxGenerations:    cfg.MaxGenerations,
		GenerationTimeout: cfg.GenerationTimeout,
	}, log)

	windowRunner := gate.NewExecutorWindowRunner(cache, exec, cfg.StageDir(), 0.7, cfg.ExecTimeout, log)
	deploymentGate := gate.New(repo, windowRunner, gate.DefaultCoefficients(), log)

	var snapshotter *archive.Snapshotter
	if cfg.Archive.Enabled {
		snapshotter, err = archive.New(context.Background(), cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive")
		}
	}

	// One run at a time: the HTTP trigger and the scheduler share this
	// guard, and generations within a run are never overlapped anyway.
	var runActive atomic.Bool
	runOnce := func(ctx context.Context) error {
		if !runActive.CompareAndSwap(false, true) {
			return fmt.Errorf("a run is already in progress")
		}
		defer runActive.Store(false)
		return runEvolution(ctx, cfg, log, repo, engine, deploymentGate, registryDB, snapshotter)
	}

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		RegistryDB: registryDB,
		Repo:       repo,
		Gate:       deploymentGate,
		Cache:      cache,
		Run:        runOnce,
	})

	sched := scheduler.New(context.Background(), log)
	if cfg.RunSchedule != "" {
		if err := sched.AddJob(cfg.RunSchedule, scheduler.NewEvolutionRunJob(runOnce, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RunSchedule).Msg("Invalid run schedule")
		}
	}
	if err := sched.AddJob("0 0 * * * *", scheduler.NewCachePurgeJob(cache, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache purge job")
	}
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
