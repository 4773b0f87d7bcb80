package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultmind.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("VM_TEST_DSN", "postgres://vault:secret@db/mind")

	path := writeConfig(t, `{
		"server": {"port": 9000},
		"database": {
			"postgres": {"dsn": "${VM_TEST_DSN}"},
			"redis": {"url": "${VM_TEST_REDIS:redis://localhost:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://vault:secret@db/mind" {
		t.Fatalf("env var not substituted: %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Fatalf("default not applied: %q", cfg.Database.Redis.URL)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("default port missing: %d", cfg.Server.Port)
	}
	if cfg.Cognition.ReflectionThreshold != 150 || cfg.Cognition.MinEvents != 5 {
		t.Fatalf("cognition defaults missing: %+v", cfg.Cognition)
	}
	if cfg.Cognition.MaxMetacognitionPerDay != 1 || cfg.Cognition.MetacognitionHours != 24 {
		t.Fatalf("trigger defaults missing: %+v", cfg.Cognition)
	}
	if cfg.Clock.SweepMinutes != 5 || cfg.Clock.Speed != 1.0 {
		t.Fatalf("clock defaults missing: %+v", cfg.Clock)
	}
}

func TestLoadParsesRouting(t *testing.T) {
	path := writeConfig(t, `{
		"routing": {
			"default": "${VM_TEST_PROVIDER:anthropic-main}",
			"bindings": {"nora": "openai-main"},
			"fallbacks": {"*": ["anthropic-main"], "nora": ["anthropic-main", "openai-backup"]}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Default != "anthropic-main" {
		t.Fatalf("routing default lost: %q", cfg.Routing.Default)
	}
	if cfg.Routing.Bindings["nora"] != "openai-main" {
		t.Fatalf("binding lost: %v", cfg.Routing.Bindings)
	}
	if len(cfg.Routing.Fallbacks["nora"]) != 2 || len(cfg.Routing.Fallbacks["*"]) != 1 {
		t.Fatalf("fallback chains lost: %v", cfg.Routing.Fallbacks)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := writeConfig(t, `{"server":`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}
