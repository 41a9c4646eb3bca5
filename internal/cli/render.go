package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/export"
	"github.com/matzehuels/vectorprint/pkg/raster"
)

// renderOpts holds the flags of the render command.
type renderOpts struct {
	output string
	format string
	size   sizeFlags
	style  styleFlags
}

// renderCommand renders a local SVG file without metering. It is meant for
// previewing styles against a document before publishing it to the catalog.
func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render [file.svg]",
		Short: "Style and rasterize a local SVG file (no metering)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.runRender(cmd, args[0], &opts, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default <name>-<w>x<h>.<ext> next to the input)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(raster.FormatPNG), "output format: "+formatNames())
	opts.size.register(cmd)
	opts.style.register(cmd)
	return cmd
}

func (c *CLI) runRender(cmd *cobra.Command, input string, opts *renderOpts, cfg Config) error {
	logger := loggerFromContext(cmd.Context())

	src, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}
	payload, err := opts.style.payload()
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	prog := newProgress(logger)
	spin := newSpinner(cmd.Context(), cmd.ErrOrStderr(), "Rendering "+name)
	spin.Start()
	art, err := export.RenderDocument(name, string(src), payload, raster.Format(opts.format),
		opts.size.request(cmd), exportOptions(cfg.Render, cfg.Cache.TTL))
	spin.Stop()
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Rendered %s", art.Format))

	out := opts.output
	if out == "" {
		out = filepath.Join(filepath.Dir(input), art.Filename)
	}
	if err := writeOutput(out, art.Data); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	printSuccess("Rendered %s", name)
	printArtifact(art)
	printFile(out)
	return nil
}

// writeOutput writes data to path, creating parent directories.
func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
