package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/buildinfo"
	"github.com/matzehuels/vectorprint/pkg/cache"
	"github.com/matzehuels/vectorprint/pkg/catalog"
	"github.com/matzehuels/vectorprint/pkg/export"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/ledger/memory"
	"github.com/matzehuels/vectorprint/pkg/ledger/mongo"
	"github.com/matzehuels/vectorprint/pkg/ledger/postgres"
	"github.com/matzehuels/vectorprint/pkg/ledger/sqlite"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "vectorprint"

	// exportAttempts bounds CLI retries of retryable ledger failures.
	exportAttempts = 3
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger     *log.Logger
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Vectorprint renders styled vector art into metered exports",
		Long:         `Vectorprint styles catalog vector documents, rasterizes them to PNG, JPEG, WEBP or TIFF, and meters every export against entitlement grants.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.config/vectorprint/config.toml)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.grantCommand())
	root.AddCommand(c.summaryCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

func (c *CLI) loadConfig() (Config, error) {
	return LoadConfig(c.configPath)
}

// =============================================================================
// Factories
// =============================================================================

// openStore opens the configured ledger store.
func openStore(ctx context.Context, cfg LedgerConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case driverMemory:
		return memory.New(), nil
	case driverSQLite:
		return sqlite.Open(cfg.DSN)
	case driverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case driverMongo:
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// openCache opens the configured artifact cache.
func openCache(ctx context.Context, cfg CacheConfig, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Kind {
	case cacheFile:
		return cache.NewFileCache(cfg.Dir)
	case cacheRedis:
		return cache.OpenRedis(ctx, cfg.URL, cfg.Prefix)
	default:
		return cache.NewNullCache(), nil
	}
}

func (c *CLI) openLedger(ctx context.Context, cfg Config) (*ledger.Ledger, error) {
	store, err := openStore(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	c.Logger.Debug("opened ledger", "driver", cfg.Ledger.Driver)
	return ledger.New(store, c.Logger), nil
}

func exportOptions(cfg RenderConfig, ttl Duration) export.Options {
	return export.Options{
		MaxConcurrentRenders: cfg.MaxConcurrent,
		Precheck:             cfg.Precheck,
		SourceDPI:            cfg.SourceDPI,
		MaxSourcePixels:      cfg.MaxSourcePixels,
		CacheTTL:             ttl.Duration,
	}
}

// openCatalog opens the remote catalog when a URL is configured and the
// local directory otherwise. Remote documents share the artifact cache.
func openCatalog(cfg CatalogConfig, ac cache.Cache) (catalog.Catalog, error) {
	if cfg.URL != "" {
		return catalog.NewHTTPCatalog(cfg.URL, ac, cfg.Headers)
	}
	return catalog.NewDirCatalog(cfg.Dir)
}

// newRunner wires catalog, ledger and cache from cfg. The caller closes the
// returned runner and ledger store.
func (c *CLI) newRunner(ctx context.Context, cfg Config, noCache bool) (*export.Runner, *ledger.Ledger, error) {
	ac, err := openCache(ctx, cfg.Cache, noCache)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	cat, err := openCatalog(cfg.Catalog, ac)
	if err != nil {
		ac.Close()
		return nil, nil, err
	}
	l, err := c.openLedger(ctx, cfg)
	if err != nil {
		ac.Close()
		return nil, nil, err
	}

	r := export.NewRunner(cat, l, exportOptions(cfg.Render, cfg.Cache.TTL))
	r.Cache = ac
	r.Logger = c.Logger
	return r, l, nil
}
