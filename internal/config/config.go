// Package config provides hierarchical configuration loading for Orchid.
// Precedence: defaults < YAML file < environment variables.
package config

// Config holds all runtime configuration for the orchestration core.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	Storage      Storage      `yaml:"storage"`
	NATS         NATS         `yaml:"nats"`
	Guard        Guard        `yaml:"guard"`
	Correction   Correction   `yaml:"correction"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Streams      Streams      `yaml:"streams"`
	Cache        Cache        `yaml:"cache"`
	Telemetry    Telemetry    `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string  `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // sustained per-IP request rate
	RateLimitBurst int     `yaml:"rate_limit_burst"` // per-IP burst allowance
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Storage holds the flat-file state store configuration.
type Storage struct {
	Dir string `yaml:"dir"` // root directory for plans, registries, ledgers
}

// NATS holds the task dispatch queue configuration. The breaker settings
// control how fast dispatch gives up on a degraded queue: trip after
// BreakerMaxFailures consecutive publish failures, retry after
// BreakerCooldownSeconds.
type NATS struct {
	URL                    string `yaml:"url"`
	BreakerMaxFailures     int    `yaml:"breaker_max_failures"`
	BreakerCooldownSeconds int    `yaml:"breaker_cooldown_seconds"`
}

// Guard holds per-session delegation admission configuration.
type Guard struct {
	Mode             string   `yaml:"mode"`              // "none" | "single" | "recursive"
	MaxDepth         int      `yaml:"max_depth"`         // recursion ceiling in recursive mode
	MaxParallel      int      `yaml:"max_parallel"`      // concurrent delegate cap
	RunawayThreshold int      `yaml:"runaway_threshold"` // signals before freeze
	RunawayPhrases   []string `yaml:"runaway_phrases"`   // overrides the stock phrase list
}

// Correction holds correction budget configuration.
type Correction struct {
	MaxPerTask   int  `yaml:"max_per_task"`
	MaxTotal     int  `yaml:"max_total"`
	EscalateTier bool `yaml:"escalate_tier"`
}

// Orchestrator holds plan execution configuration.
type Orchestrator struct {
	MaxParallel int `yaml:"max_parallel"` // concurrent tasks per plan
}

// Streams holds work-stream coordination configuration.
type Streams struct {
	RepoDir          string `yaml:"repo_dir"`           // repository the worktrees branch from
	WorktreeDir      string `yaml:"worktree_dir"`       // where isolated working copies live
	GitMaxConcurrent int    `yaml:"git_max_concurrent"` // bound on concurrent git CLI ops
}

// Cache holds wave snapshot cache configuration. With RemoteBucket set,
// snapshots are shared across instances through a NATS KV bucket behind
// the in-process tier.
type Cache struct {
	MaxSizeMB    int64  `yaml:"max_size_mb"`
	RemoteBucket string `yaml:"remote_bucket"`
}

// Telemetry holds metrics configuration.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8090",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Logging: Logging{
			Level:   "info",
			Service: "orchid-core",
		},
		Storage: Storage{
			Dir: ".orchid",
		},
		NATS: NATS{
			URL:                    "nats://localhost:4222",
			BreakerMaxFailures:     5,
			BreakerCooldownSeconds: 30,
		},
		Guard: Guard{
			Mode:             "single",
			MaxDepth:         2,
			MaxParallel:      4,
			RunawayThreshold: 5,
		},
		Correction: Correction{
			MaxPerTask:   2,
			MaxTotal:     8,
			EscalateTier: true,
		},
		Orchestrator: Orchestrator{
			MaxParallel: 4,
		},
		Streams: Streams{
			RepoDir:          ".",
			WorktreeDir:      ".orchid/worktrees",
			GitMaxConcurrent: 4,
		},
		Cache: Cache{
			MaxSizeMB: 16,
		},
	}
}
