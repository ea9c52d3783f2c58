package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.toml")
	body := `
log_level = "debug"

[server]
listen_addr = ":9999"

[engine]
persist_flush = "200ms"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("STACK_SERVER_LISTEN_ADDR", ":7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q, want %q", cfg.LogLevel, "debug")
	}
	// Env wins over the file.
	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen addr: got %q, want %q", cfg.Server.ListenAddr, ":7777")
	}
	if cfg.Engine.PersistFlush.Duration != 200*time.Millisecond {
		t.Errorf("persist flush: got %v, want 200ms", cfg.Engine.PersistFlush.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.PersistChanCap != 4096 {
		t.Errorf("persist chan cap: got %d, want 4096", cfg.Engine.PersistChanCap)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"zero persist cap", func(c *Config) { c.Engine.PersistChanCap = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tc := range cases {
		cfg := Defaults()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validate should fail", tc.name)
		}
	}
}
