package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "orchid.yaml"

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
	setString(&cfg.Server.Port, "ORCHID_PORT")
	setFloat(&cfg.Server.RateLimitRPS, "ORCHID_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "ORCHID_RATE_LIMIT_BURST")
	setString(&cfg.Logging.Level, "ORCHID_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ORCHID_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ORCHID_LOG_ASYNC")
	setString(&cfg.Storage.Dir, "ORCHID_STATE_DIR")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.NATS.BreakerMaxFailures, "ORCHID_NATS_BREAKER_MAX_FAILURES")
	setInt(&cfg.NATS.BreakerCooldownSeconds, "ORCHID_NATS_BREAKER_COOLDOWN_SECONDS")

	setString(&cfg.Guard.Mode, "ORCHID_GUARD_MODE")
	setInt(&cfg.Guard.MaxDepth, "ORCHID_GUARD_MAX_DEPTH")
	setInt(&cfg.Guard.MaxParallel, "ORCHID_GUARD_MAX_PARALLEL")
	setInt(&cfg.Guard.RunawayThreshold, "ORCHID_GUARD_RUNAWAY_THRESHOLD")
	setStringSlice(&cfg.Guard.RunawayPhrases, "ORCHID_GUARD_RUNAWAY_PHRASES")

	setInt(&cfg.Correction.MaxPerTask, "ORCHID_CORRECTION_MAX_PER_TASK")
	setInt(&cfg.Correction.MaxTotal, "ORCHID_CORRECTION_MAX_TOTAL")
	setBool(&cfg.Correction.EscalateTier, "ORCHID_CORRECTION_ESCALATE_TIER")

	setInt(&cfg.Orchestrator.MaxParallel, "ORCHID_ORCH_MAX_PARALLEL")

	setString(&cfg.Streams.RepoDir, "ORCHID_STREAMS_REPO_DIR")
	setString(&cfg.Streams.WorktreeDir, "ORCHID_STREAMS_WORKTREE_DIR")
	setInt(&cfg.Streams.GitMaxConcurrent, "ORCHID_GIT_MAX_CONCURRENT")

	setInt64(&cfg.Cache.MaxSizeMB, "ORCHID_CACHE_SIZE_MB")
	setString(&cfg.Cache.RemoteBucket, "ORCHID_CACHE_REMOTE_BUCKET")
	setBool(&cfg.Telemetry.Enabled, "ORCHID_TELEMETRY_ENABLED")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Storage.Dir == "" {
		return errors.New("storage.dir is required")
	}
	switch cfg.Guard.Mode {
	case "none", "single", "recursive":
		// ok
	default:
		return fmt.Errorf("guard.mode %q must be none, single, or recursive", cfg.Guard.Mode)
	}
	if cfg.NATS.BreakerMaxFailures < 1 {
		return errors.New("nats.breaker_max_failures must be >= 1")
	}
	if cfg.Guard.MaxParallel < 1 {
		return errors.New("guard.max_parallel must be >= 1")
	}
	if cfg.Guard.RunawayThreshold < 1 {
		return errors.New("guard.runaway_threshold must be >= 1")
	}
	if cfg.Correction.MaxPerTask < 1 {
		return errors.New("correction.max_per_task must be >= 1")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
