package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	t.Setenv("XDG_CACHE_HOME", "/tmp/cache")

	cfg := DefaultConfig()
	if cfg.Ledger.Driver != driverSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Ledger.Driver)
	}
	if want := filepath.Join("/tmp/data", appName, "ledger.db"); cfg.Ledger.DSN != want {
		t.Errorf("dsn = %q, want %q", cfg.Ledger.DSN, want)
	}
	if want := filepath.Join("/tmp/cache", appName); cfg.Cache.Dir != want {
		t.Errorf("cache dir = %q, want %q", cfg.Cache.Dir, want)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"

[ledger]
driver = "postgres"
dsn = "postgres://localhost/vectorprint"

[cache]
kind = "redis"
url = "redis://localhost:6379/0"
ttl = "2h"

[render]
max_concurrent = 2
precheck = true

[catalog]
url = "https://assets.example.com/svg"

[catalog.headers]
Authorization = "Bearer token"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Ledger.Driver != driverPostgres || cfg.Ledger.DSN != "postgres://localhost/vectorprint" {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Cache.TTL.Duration != 2*time.Hour {
		t.Errorf("ttl = %v, want 2h", cfg.Cache.TTL)
	}
	if !cfg.Render.Precheck || cfg.Render.MaxConcurrent != 2 {
		t.Errorf("render = %+v", cfg.Render)
	}
	if cfg.Catalog.URL != "https://assets.example.com/svg" || cfg.Catalog.Headers["Authorization"] != "Bearer token" {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	// Unset keys keep their defaults.
	if cfg.Catalog.Dir != "catalog" {
		t.Errorf("catalog dir = %q, want default", cfg.Catalog.Dir)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "[ledger]\ndriverr = \"sqlite\"\n", "unknown keys"},
		{"bad driver", "[ledger]\ndriver = \"oracle\"\n", "ledger.driver"},
		{"bad cache", "[cache]\nkind = \"memcached\"\n", "cache.kind"},
		{"redis without url", "[cache]\nkind = \"redis\"\n", "cache.url"},
		{"bad duration", "[cache]\nttl = \"soon\"\n", "load config"},
		{"negative", "[render]\nmax_concurrent = -1\n", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("explicit missing config should fail")
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("missing default config should not fail: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default", cfg.Server.Addr)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90m")); err != nil {
		t.Fatal(err)
	}
	b, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "1h30m0s" {
		t.Errorf("MarshalText() = %q", b)
	}
	if err := d.UnmarshalText([]byte("x")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
