// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases and staged files, always absolute
	Port     int
	DevMode  bool
	LogLevel string

	// Generative mutation service
	GeminiAPIKey string // empty means fallback-only mutation
	GeminiModel  string

	// External backtest executor
	ExecutorBinary string
	ExecTimeout    time.Duration

	// Market data
	MarketDataDir string // directory of CSV price files
	CacheTTL      time.Duration

	// Evaluation
	WorkerBudget int
	ProfileName  string
	ProfileTier  string
	ProfilePath  string // optional YAML file with custom profiles

	// Evolution loop
	PopulationSize    int
	EliteSize         int
	MutationRate      float64
	Patience          int
	MaxGenerations    int
	GenerationTimeout time.Duration // cap on one generation's evaluation, 0 disables

	// Scheduled runs, empty disables the scheduler
	RunSchedule string

	Archive *ArchiveConfig
}

// ArchiveConfig holds registry snapshot archival settings.
type ArchiveConfig struct {
	Enabled   bool
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string // optional custom endpoint for S3-compatible stores
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALPHAEVOLVE_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8090),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		ExecutorBinary: getEnv("EXECUTOR_BINARY", "backtest-runner"),
		ExecTimeout:    time.Duration(getEnvAsInt("EXECUTOR_TIMEOUT_SECONDS", 120)) * time.Second,

		MarketDataDir: getEnv("MARKET_DATA_DIR", filepath.Join(absDataDir, "marketdata")),
		CacheTTL:      time.Duration(getEnvAsInt("CACHE_TTL_MINUTES", 360)) * time.Minute,

		WorkerBudget: getEnvAsInt("WORKER_BUDGET", 4),
		ProfileName:  getEnv("FITNESS_PROFILE", "balanced"),
		ProfileTier:  getEnv("FITNESS_TIER", "demo"),
		ProfilePath:  getEnv("FITNESS_PROFILE_FILE", ""),

		PopulationSize:    getEnvAsInt("POPULATION_SIZE", 12),
		EliteSize:         getEnvAsInt("ELITE_SIZE", 2),
		MutationRate:      getEnvAsFloat("MUTATION_RATE", 0.8),
		Patience:          getEnvAsInt("PATIENCE", 5),
		MaxGenerations:    getEnvAsInt("MAX_GENERATIONS", 20),
		GenerationTimeout: time.Duration(getEnvAsInt("GENERATION_TIMEOUT_SECONDS", 600)) * time.Second,

		RunSchedule: getEnv("RUN_SCHEDULE", ""),

		Archive: loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.WorkerBudget <= 0 {
		return fmt.Errorf("WORKER_BUDGET must be positive, got %d", c.WorkerBudget)
	}
	if c.PopulationSize < 2 {
		return fmt.Errorf("POPULATION_SIZE must be at least 2, got %d", c.PopulationSize)
	}
	if c.EliteSize >= c.PopulationSize {
		return fmt.Errorf("ELITE_SIZE %d must be smaller than POPULATION_SIZE %d", c.EliteSize, c.PopulationSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("MUTATION_RATE must be within [0, 1], got %g", c.MutationRate)
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET is required when archival is enabled")
	}
	return nil
}

// RegistryPath returns the registry database location.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "registry.db")
}

// CachePath returns the market data cache database location.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// StageDir returns the directory candidate files are staged under.
func (c *Config) StageDir() string {
	return filepath.Join(c.DataDir, "stage")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// loadArchiveConfig loads registry snapshot archival settings.
func loadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Enabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
		Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		Prefix:    getEnv("ARCHIVE_S3_PREFIX", "alphaevolve"),
		Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
	}
}
