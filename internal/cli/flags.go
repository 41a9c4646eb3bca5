package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/raster"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/style"
)

// sizeFlags are the --width/--height/--scale/--print-* flags shared by the
// render and export commands.
type sizeFlags struct {
	width, height int
	scale         float64
	printUnit     string
	printWidth    float64
	printHeight   float64
	dpi           float64
}

func (f *sizeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.width, "width", 0, "output width in pixels")
	fs.IntVar(&f.height, "height", 0, "output height in pixels")
	fs.Float64Var(&f.scale, "scale", 0, "scale factor relative to the intrinsic size")
	fs.StringVar(&f.printUnit, "print-unit", string(sizing.UnitInch), "print size unit (inch, millimeter)")
	fs.Float64Var(&f.printWidth, "print-width", 0, "print width in --print-unit")
	fs.Float64Var(&f.printHeight, "print-height", 0, "print height in --print-unit")
	fs.Float64Var(&f.dpi, "dpi", 300, "print resolution")
}

// request builds a sizing request from the flags that were set.
func (f *sizeFlags) request(cmd *cobra.Command) sizing.Request {
	fs := cmd.Flags()
	var req sizing.Request
	if fs.Changed("width") {
		req.Width = lo.ToPtr(f.width)
	}
	if fs.Changed("height") {
		req.Height = lo.ToPtr(f.height)
	}
	if fs.Changed("scale") {
		req.Scale = lo.ToPtr(f.scale)
	}
	if fs.Changed("print-width") || fs.Changed("print-height") {
		req.Print = &sizing.PrintSpec{
			Unit:   sizing.Unit(f.printUnit),
			Width:  f.printWidth,
			Height: f.printHeight,
			DPI:    f.dpi,
		}
	}
	return req
}

// styleFlags collect a style payload from a JSON file plus overrides.
type styleFlags struct {
	file        string
	fill        string
	stroke      string
	strokeWidth string
	background  string
	noWatermark bool
}

func (f *styleFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.file, "style", "", "style payload JSON file (- for stdin)")
	fs.StringVar(&f.fill, "fill", "", "fill color for every shape")
	fs.StringVar(&f.stroke, "stroke", "", "stroke color for every shape")
	fs.StringVar(&f.strokeWidth, "stroke-width", "", "stroke width for every shape")
	fs.StringVar(&f.background, "background", "", `background color, or "none" for transparent`)
	fs.BoolVar(&f.noWatermark, "no-watermark", false, "omit the preview watermark")
}

func (f *styleFlags) payload() (style.Payload, error) {
	var p style.Payload
	if f.file != "" {
		var data []byte
		var err error
		if f.file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return p, fmt.Errorf("read style: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parse style %s: %w", f.file, err)
		}
	}
	p.FillColor = lo.Ternary(f.fill != "", f.fill, p.FillColor)
	p.StrokeColor = lo.Ternary(f.stroke != "", f.stroke, p.StrokeColor)
	p.StrokeWidth = lo.Ternary(f.strokeWidth != "", f.strokeWidth, p.StrokeWidth)
	p.BackgroundColor = lo.Ternary(f.background != "", f.background, p.BackgroundColor)
	if f.noWatermark {
		p.IncludeWatermark = lo.ToPtr(false)
	}
	return p, nil
}

// formatNames lists the accepted --format values.
func formatNames() string {
	names := lo.Map(lo.Keys(raster.ValidFormats), func(f raster.Format, _ int) string { return string(f) })
	slices.Sort(names)
	return strings.Join(names, ", ")
}
