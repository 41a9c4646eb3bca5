package cli

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/api"
)

// serveCommand runs the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr    string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the export API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			runner, l, err := c.newRunner(ctx, cfg, noCache)
			if err != nil {
				return err
			}
			defer l.Store.Close()
			defer runner.Close()

			c.Logger.Info("starting server",
				"ledger", cfg.Ledger.Driver,
				"cache", cfg.Cache.Kind,
				"catalog", lo.Ternary(cfg.Catalog.URL != "", cfg.Catalog.URL, cfg.Catalog.Dir),
				"precheck", cfg.Render.Precheck)
			return api.NewServer(runner, c.Logger).ListenAndServe(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the artifact cache")
	return cmd
}
