package raster

import (
	"bytes"
	"image"
	"image/color"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

const (
	// DefaultSourceDPI is the density the vector source is rasterized at
	// before resampling to the target.
	DefaultSourceDPI = 300

	// CSSPixelsPerInch maps user units to inches.
	CSSPixelsPerInch = 96

	// DefaultMaxSourcePixels bounds the supersampled source canvas.
	DefaultMaxSourcePixels = 32 << 20
)

// Option configures Render.
type Option func(*renderer)

type renderer struct {
	background *color.NRGBA
	sourceDPI  float64
	maxSource  int
}

// WithBackground fills the canvas before compositing. nil keeps the canvas
// transparent (JPEG output is still flattened onto white).
func WithBackground(c *color.NRGBA) Option {
	return func(r *renderer) { r.background = c }
}

// WithSourceDPI sets the source rasterization density (default 300).
func WithSourceDPI(dpi float64) Option {
	return func(r *renderer) {
		if dpi > 0 {
			r.sourceDPI = dpi
		}
	}
}

// WithMaxSourcePixels caps the supersampled source area.
func WithMaxSourcePixels(n int) Option {
	return func(r *renderer) {
		if n > 0 {
			r.maxSource = n
		}
	}
}

// Render rasterizes doc to exactly target pixels and encodes it as format.
// The drawing is scaled to fit inside the target with its aspect ratio
// preserved and centered; uncovered canvas keeps the background.
func Render(doc *svgdoc.Document, format Format, target sizing.Target, opts ...Option) ([]byte, error) {
	if !format.IsRaster() {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "not a raster format: %q", format)
	}
	r := renderer{sourceDPI: DefaultSourceDPI, maxSource: DefaultMaxSourcePixels}
	for _, opt := range opts {
		opt(&r)
	}

	img, err := r.image(doc, target, format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderImage rasterizes doc without encoding. The canvas stays
// transparent unless a background option is given.
func RenderImage(doc *svgdoc.Document, target sizing.Target, opts ...Option) (*image.RGBA, error) {
	r := renderer{sourceDPI: DefaultSourceDPI, maxSource: DefaultMaxSourcePixels}
	for _, opt := range opts {
		opt(&r)
	}
	return r.image(doc, target, FormatPNG)
}

func (r renderer) image(doc *svgdoc.Document, target sizing.Target, format Format) (img *image.RGBA, err error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidSize, "invalid target %dx%d", target.Width, target.Height)
	}
	defer func() {
		// rasterx panics on some degenerate paths.
		if p := recover(); p != nil {
			img, err = nil, errors.New(errors.ErrCodeRenderFailed, "rasterize: %v", p)
		}
	}()

	prepared, fr, runs := prepare(doc)
	var src bytes.Buffer
	if _, err := prepared.WriteTo(&src); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "serialize document")
	}
	icon, err := oksvg.ReadIconStream(&src, oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "parse document")
	}

	scale := r.sourceScale(fr, target)
	sw := max(1, int(math.Ceil(fr.W*scale)))
	sh := max(1, int(math.Ceil(fr.H*scale)))
	canvas := image.NewRGBA(image.Rect(0, 0, sw, sh))

	icon.SetTarget(0, 0, float64(sw), float64(sh))
	scanner := rasterx.NewScannerGV(sw, sh, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(sw, sh, scanner), 1.0)

	if err := drawText(canvas, runs, fr, float64(sw)/fr.W, float64(sh)/fr.H); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "draw text")
	}

	bg := r.background
	if bg == nil && !format.HasAlpha() {
		bg = &color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	return fit(canvas, target, bg), nil
}

// sourceScale picks the user-unit to pixel factor for the source canvas:
// the configured density, never less than what the target needs, and
// within the source pixel budget unless the target itself demands more.
func (r renderer) sourceScale(fr frame, target sizing.Target) float64 {
	density := r.sourceDPI / CSSPixelsPerInch
	fitScale := containScale(fr.W, fr.H, target)
	budget := math.Sqrt(float64(r.maxSource) / (fr.W * fr.H))
	return math.Max(math.Min(density, budget), fitScale)
}

func containScale(w, h float64, target sizing.Target) float64 {
	return math.Min(float64(target.Width)/w, float64(target.Height)/h)
}

// fit resamples src into a target-sized canvas, centered, with its aspect
// ratio preserved.
func fit(src *image.RGBA, target sizing.Target, bg *color.NRGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	if bg != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	sb := src.Bounds()
	rect := ContentRect(float64(sb.Dx()), float64(sb.Dy()), target)

	if sb.Dx() == rect.Dx() && sb.Dy() == rect.Dy() {
		draw.Draw(dst, rect, src, sb.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, rect, src, sb, draw.Over, nil)
	return dst
}

// ContentRect reports where a source of the given size lands inside target.
func ContentRect(w, h float64, target sizing.Target) image.Rectangle {
	s := containScale(w, h, target)
	dw := min(target.Width, max(1, int(math.Round(w*s))))
	dh := min(target.Height, max(1, int(math.Round(h*s))))
	x0 := (target.Width - dw) / 2
	y0 := (target.Height - dh) / 2
	return image.Rect(x0, y0, x0+dw, y0+dh)
}
