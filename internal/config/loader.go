package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "engram.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ENGRAM_PORT")
	setString(&cfg.Server.CORSOrigin, "ENGRAM_CORS_ORIGIN")
	setString(&cfg.Server.APIKeyHash, "ENGRAM_API_KEY_HASH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ENGRAM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ENGRAM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ENGRAM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ENGRAM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ENGRAM_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "ENGRAM_EXTRACTION_MODEL")
	setString(&cfg.Logging.Level, "ENGRAM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ENGRAM_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "ENGRAM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "ENGRAM_BREAKER_COOLDOWN")
	setInt64(&cfg.Cache.L1MaxSizeMB, "ENGRAM_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1Backfill, "ENGRAM_CACHE_L1_BACKFILL")
	setString(&cfg.Cache.L2Bucket, "ENGRAM_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ENGRAM_CACHE_L2_TTL")
	setDuration(&cfg.Memory.DedupWindow, "ENGRAM_DEDUP_WINDOW")
	setInt(&cfg.Memory.TranscriptLimit, "ENGRAM_TRANSCRIPT_LIMIT")
	setInt(&cfg.Memory.ExistingLimit, "ENGRAM_EXISTING_LIMIT")
	setInt64(&cfg.Tasks.MaxConcurrent, "ENGRAM_TASKS_MAX_CONCURRENT")
	setDuration(&cfg.Tasks.Timeout, "ENGRAM_TASKS_TIMEOUT")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.MCP.Enabled, "ENGRAM_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "ENGRAM_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "ENGRAM_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.L2Bucket == "" {
		return errors.New("cache.l2_bucket is required")
	}
	if cfg.Tasks.MaxConcurrent < 1 {
		return errors.New("tasks.max_concurrent must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
