package cli

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/export"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/raster"
)

// identityFlags select the ledger owner.
type identityFlags struct {
	user  string
	guest string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "user id")
	cmd.Flags().StringVar(&f.guest, "guest", "", "guest id (ignored when --user is set)")
}

func (f *identityFlags) identity() (ledger.Identity, error) {
	id := ledger.Identity{UserID: f.user, GuestID: f.guest}.Normalize()
	if id.IsZero() {
		return id, fmt.Errorf("--user or --guest is required")
	}
	return id, nil
}

// exportOpts holds the flags of the export command.
type exportOpts struct {
	output  string
	format  string
	key     string
	noCache bool
	who     identityFlags
	size    sizeFlags
	style   styleFlags
}

// exportCommand runs a metered export of a catalog product.
func (c *CLI) exportCommand() *cobra.Command {
	var opts exportOpts

	cmd := &cobra.Command{
		Use:   "export [product]",
		Short: "Export a catalog product, consuming one credit",
		Long: `Export styles and renders a catalog product and consumes one credit from
the identity's grants. Re-running with the same --key never consumes a
second credit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.runExport(cmd, args[0], &opts, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: suggested filename)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(raster.FormatPNG), "output format: "+formatNames())
	cmd.Flags().StringVar(&opts.key, "key", "", "idempotency key (default: random)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	opts.who.register(cmd)
	opts.size.register(cmd)
	opts.style.register(cmd)
	return cmd
}

func (c *CLI) runExport(cmd *cobra.Command, productID string, opts *exportOpts, cfg Config) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	id, err := opts.who.identity()
	if err != nil {
		return err
	}
	payload, err := opts.style.payload()
	if err != nil {
		return err
	}
	key := opts.key
	if key == "" {
		key = uuid.NewString()
	}

	runner, l, err := c.newRunner(ctx, cfg, opts.noCache)
	if err != nil {
		return err
	}
	defer l.Store.Close()
	defer runner.Close()

	req := export.Request{
		ProductID:      productID,
		Identity:       id,
		Style:          payload,
		Format:         raster.Format(opts.format),
		Size:           opts.size.request(cmd),
		IdempotencyKey: key,
	}

	prog := newProgress(logger)
	spin := newSpinner(ctx, cmd.ErrOrStderr(), "Exporting "+productID)
	spin.Start()
	var art *export.Artifact
	err = errors.RetryWithBackoff(ctx, exportAttempts, func() error {
		var err error
		art, err = runner.Export(ctx, req)
		if errors.IsRetryable(err) {
			logger.Warn("ledger unavailable, retrying", "key", key, "err", err)
		}
		return err
	})
	switch {
	case errors.Is(err, errors.ErrCodeQuotaDenied):
		spin.StopWithError("Export denied: %s", errors.UserMessage(err))
		return err
	case err != nil:
		spin.StopWithError("Export of %s failed", productID)
		return err
	case art.Outcome.Status == ledger.StatusAlreadyConsumed:
		spin.StopWithSuccess("Replayed %s, no credit used", productID)
	default:
		spin.StopWithSuccess("Exported %s", productID)
	}
	prog.done(fmt.Sprintf("Exported %s", productID))

	out := opts.output
	if out == "" {
		out = filepath.Join(".", art.Filename)
	}
	if err := writeOutput(out, art.Data); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	printArtifact(art)
	printKeyValue("Status", string(art.Outcome.Status))
	printKeyValue("Key", key)
	printFile(out)
	return nil
}
