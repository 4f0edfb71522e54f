package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ALPHAEVOLVE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "balanced", cfg.ProfileName)
	assert.Equal(t, "demo", cfg.ProfileTier)
	assert.Equal(t, 4, cfg.WorkerBudget)
	assert.Equal(t, 12, cfg.PopulationSize)
	assert.Equal(t, 2, cfg.EliteSize)
	assert.Equal(t, 0.8, cfg.MutationRate)
	assert.Equal(t, 6*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.GenerationTimeout)
	assert.False(t, cfg.Archive.Enabled)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALPHAEVOLVE_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_BUDGET", "8")
	t.Setenv("POPULATION_SIZE", "6")
	t.Setenv("MUTATION_RATE", "0.5")
	t.Setenv("FITNESS_TIER", "production")
	t.Setenv("GENERATION_TIMEOUT_SECONDS", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8, cfg.WorkerBudget)
	assert.Equal(t, 6, cfg.PopulationSize)
	assert.Equal(t, 0.5, cfg.MutationRate)
	assert.Equal(t, "production", cfg.ProfileTier)
	assert.Equal(t, 2*time.Minute, cfg.GenerationTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			WorkerBudget:   4,
			PopulationSize: 12,
			EliteSize:      2,
			MutationRate:   0.8,
			Archive:        &ArchiveConfig{},
		}
	}

	assert.NoError(t, base().Validate())

	noWorkers := base()
	noWorkers.WorkerBudget = 0
	assert.Error(t, noWorkers.Validate())

	tinyPopulation := base()
	tinyPopulation.PopulationSize = 1
	assert.Error(t, tinyPopulation.Validate())

	eliteTooLarge := base()
	eliteTooLarge.EliteSize = 12
	assert.Error(t, eliteTooLarge.Validate())

	badRate := base()
	badRate.MutationRate = 1.5
	assert.Error(t, badRate.Validate())

	archiveNoBucket := base()
	archiveNoBucket.Archive.Enabled = true
	assert.ErrorContains(t, archiveNoBucket.Validate(), "ARCHIVE_S3_BUCKET")
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/alphaevolve"}

	assert.Equal(t, "/var/lib/alphaevolve/registry.db", cfg.RegistryPath())
	assert.Equal(t, "/var/lib/alphaevolve/cache.db", cfg.CachePath())
	assert.Equal(t, "/var/lib/alphaevolve/stage", cfg.StageDir())
}
