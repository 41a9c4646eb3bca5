package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the vectorprint.toml file. Flags override individual values.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Cache   CacheConfig   `toml:"cache"`
	Render  RenderConfig  `toml:"render"`
	Catalog CatalogConfig `toml:"catalog"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LedgerConfig selects the ledger store.
type LedgerConfig struct {
	Driver   string `toml:"driver"`   // memory, sqlite, postgres or mongo
	DSN      string `toml:"dsn"`      // file path, postgres DSN or mongodb:// URI
	Database string `toml:"database"` // mongo only
}

// CacheConfig selects the artifact cache.
type CacheConfig struct {
	Kind   string   `toml:"kind"` // none, file or redis
	Dir    string   `toml:"dir"`
	URL    string   `toml:"url"`
	Prefix string   `toml:"prefix"`
	TTL    Duration `toml:"ttl"`
}

// RenderConfig tunes rasterization and metering.
type RenderConfig struct {
	MaxConcurrent   int     `toml:"max_concurrent"`
	Precheck        bool    `toml:"precheck"`
	SourceDPI       float64 `toml:"source_dpi"`
	MaxSourcePixels int     `toml:"max_source_pixels"`
}

// CatalogConfig locates base documents. URL takes precedence over Dir.
type CatalogConfig struct {
	Dir     string            `toml:"dir"`
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

// Duration decodes TOML strings such as "24h".
type Duration struct{ time.Duration }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Ledger drivers.
const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverMongo    = "mongo"
)

// Cache kinds.
const (
	cacheNone  = "none"
	cacheFile  = "file"
	cacheRedis = "redis"
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	cfg := Config{
		Server:  ServerConfig{Addr: ":8080"},
		Ledger:  LedgerConfig{Driver: driverSQLite, Database: appName},
		Cache:   CacheConfig{Kind: cacheFile, Prefix: appName + ":"},
		Catalog: CatalogConfig{Dir: "catalog"},
	}
	if dir, err := dataDir(); err == nil {
		cfg.Ledger.DSN = filepath.Join(dir, "ledger.db")
	}
	if dir, err := cacheDir(); err == nil {
		cfg.Cache.Dir = dir
	}
	return cfg
}

// LoadConfig reads path over the defaults. An empty path reads the default
// config file if it exists.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		dir, err := configDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(dir, "config.toml")
	}

	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Ledger.Driver {
	case driverMemory, driverSQLite, driverPostgres, driverMongo:
	default:
		return fmt.Errorf("ledger.driver: unknown driver %q (must be memory, sqlite, postgres or mongo)", c.Ledger.Driver)
	}
	switch c.Cache.Kind {
	case cacheNone, cacheFile, cacheRedis:
	default:
		return fmt.Errorf("cache.kind: unknown kind %q (must be none, file or redis)", c.Cache.Kind)
	}
	if c.Cache.Kind == cacheRedis && c.Cache.URL == "" {
		return fmt.Errorf("cache.url is required for the redis cache")
	}
	if c.Render.MaxConcurrent < 0 || c.Render.SourceDPI < 0 || c.Render.MaxSourcePixels < 0 {
		return fmt.Errorf("render: values must not be negative")
	}
	return nil
}

// =============================================================================
// Paths
// =============================================================================

func xdgDir(env string, fallback ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// cacheDir returns the cache directory using XDG standard (~/.cache/vectorprint/).
func cacheDir() (string, error) { return xdgDir("XDG_CACHE_HOME", ".cache") }

// configDir returns ~/.config/vectorprint/ or its XDG override.
func configDir() (string, error) { return xdgDir("XDG_CONFIG_HOME", ".config") }

// dataDir returns ~/.local/share/vectorprint/ or its XDG override.
func dataDir() (string, error) { return xdgDir("XDG_DATA_HOME", ".local", "share") }
