package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Routing   RoutingConfig    `json:"routing"`
	Cognition CognitionConfig  `json:"cognition"`
	Clock     ClockConfig      `json:"clock"`
	Database  DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// RoutingConfig steers agents to providers. Default falls back to the
// first registered provider when empty.
type RoutingConfig struct {
	Default   string              `json:"default,omitempty"`
	Bindings  map[string]string   `json:"bindings,omitempty"`  // agentID -> providerID
	Fallbacks map[string][]string `json:"fallbacks,omitempty"` // agentID -> provider chain
}

// CognitionConfig tunes the escalation pipeline. Zero values fall back
// to defaults in Normalize.
type CognitionConfig struct {
	ReflectionThreshold    float64 `json:"reflection_threshold"`
	MinEvents              int     `json:"min_events"`
	MaxMetacognitionPerDay int     `json:"max_metacognition_per_day"`
	MetacognitionHours     float64 `json:"metacognition_hours"`
	FailureWindowHours     float64 `json:"failure_window_hours"`
	FailureThreshold       int     `json:"failure_threshold"`
	HighImportance         float64 `json:"high_importance"`
	WorkerPool             int     `json:"worker_pool"`
	MaxAttempts            int     `json:"max_attempts"`
	GenerationTimeoutSec   int     `json:"generation_timeout_sec"`
	BackoffSec             int     `json:"backoff_sec"`
	Model                  string  `json:"model"`
	ContextLimit           int     `json:"context_limit"`
}

type ClockConfig struct {
	TickSeconds  int     `json:"tick_seconds"`
	Speed        float64 `json:"speed"`
	SweepMinutes int     `json:"sweep_minutes"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize fills zero-valued fields with defaults.
func (c *Config) Normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	cg := &c.Cognition
	if cg.ReflectionThreshold == 0 {
		cg.ReflectionThreshold = 150
	}
	if cg.MinEvents == 0 {
		cg.MinEvents = 5
	}
	if cg.MaxMetacognitionPerDay == 0 {
		cg.MaxMetacognitionPerDay = 1
	}
	if cg.MetacognitionHours == 0 {
		cg.MetacognitionHours = 24
	}
	if cg.FailureWindowHours == 0 {
		cg.FailureWindowHours = 48
	}
	if cg.FailureThreshold == 0 {
		cg.FailureThreshold = 2
	}
	if cg.HighImportance == 0 {
		cg.HighImportance = 8
	}
	if cg.WorkerPool == 0 {
		cg.WorkerPool = 1
	}
	if cg.MaxAttempts == 0 {
		cg.MaxAttempts = 3
	}
	if cg.GenerationTimeoutSec == 0 {
		cg.GenerationTimeoutSec = 60
	}
	if cg.BackoffSec == 0 {
		cg.BackoffSec = 2
	}
	if cg.ContextLimit == 0 {
		cg.ContextLimit = 20
	}
	if c.Clock.TickSeconds == 0 {
		c.Clock.TickSeconds = 1
	}
	if c.Clock.Speed == 0 {
		c.Clock.Speed = 1.0
	}
	if c.Clock.SweepMinutes == 0 {
		c.Clock.SweepMinutes = 5
	}
}
