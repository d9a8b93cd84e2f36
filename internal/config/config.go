package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/logger"
)

// Config is the full runtime configuration, read from the environment
type Config struct {
	Log     logger.Config
	LLM     llm.ProviderConfig
	Storage StorageConfig
	Redis   RedisConfig
	API     APIConfig
	Cache   cache.Config
	Metrics MetricsConfig
}

// StorageConfig selects the structured storage backend
type StorageConfig struct {
	Driver      string `envconfig:"STORAGE_DRIVER" default:"memory"` // postgres, sqlite, memory
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/kardex.db"`
	HealthCheck string `envconfig:"STORAGE_HEALTH_CHECK" default:"@every 30s"`
}

// RedisConfig configures the session store. An empty URL keeps sessions in memory.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	TTL          time.Duration `envconfig:"SESSION_TTL" default:"60m"`
	HistoryTurns int           `envconfig:"SESSION_HISTORY_TURNS" default:"10"`
}

// APIConfig points at the Kardex REST backend
type APIConfig struct {
	BaseURL string        `envconfig:"KARDEX_API_URL" default:"http://localhost:3000/api"`
	Token   string        `envconfig:"KARDEX_API_TOKEN"`
	Timeout time.Duration `envconfig:"KARDEX_API_TIMEOUT" default:"10s"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR"`
}

// ProfilesFile points at optional YAML model-profile overrides
type ProfilesFile struct {
	Path string `envconfig:"LLM_PROFILES_FILE"`
}

// LoadConfig reads every section from the environment
func LoadConfig() (*Config, error) {
	var config Config
	sections := []any{
		&config.Log,
		&config.LLM,
		&config.Storage,
		&config.Redis,
		&config.API,
		&config.Cache,
		&config.Metrics,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("error processing environment configuration: %w", err)
		}
	}
	return &config, nil
}

// LoadProfiles returns the model profile table for cfg, with YAML overrides applied when
// LLM_PROFILES_FILE is set
func LoadProfiles(cfg llm.ProviderConfig) (llm.Profiles, error) {
	profiles := llm.DefaultProfiles(cfg.Model)

	var file ProfilesFile
	if err := envconfig.Process("", &file); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}
	if file.Path == "" {
		return profiles, nil
	}

	overrides, err := LoadProfileOverrides(file.Path)
	if err != nil {
		return nil, err
	}
	return ApplyProfileOverrides(profiles, overrides), nil
}
