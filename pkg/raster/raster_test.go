package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	svg "github.com/ajstarks/svgo"
	"github.com/gen2brain/webp"
	"golang.org/x/image/tiff"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

func fixture(t *testing.T, w, h int, draw func(c *svg.SVG)) *svgdoc.Document {
	t.Helper()
	var buf bytes.Buffer
	c := svg.New(&buf)
	c.Startview(w, h, 0, 0, w, h)
	draw(c)
	c.End()
	d, err := svgdoc.Parse(&buf)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return d
}

func redSquare(t *testing.T) *svgdoc.Document {
	return fixture(t, 512, 512, func(c *svg.SVG) {
		c.Rect(0, 0, 512, 512, `fill="red"`)
	})
}

func isRed(c color.Color) bool {
	r, g, b, a := c.RGBA()
	return r>>8 > 200 && g>>8 < 60 && b>>8 < 60 && a>>8 > 200
}

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 235 && g>>8 > 235 && b>>8 > 235
}

func TestRenderPNG(t *testing.T) {
	out, err := Render(redSquare(t), FormatPNG, sizing.Target{Width: 512, Height: 512})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 512, Y: 512}) {
		t.Errorf("size = %v, want 512x512", got)
	}
	if !isRed(img.At(256, 256)) {
		t.Errorf("center = %v, want red", img.At(256, 256))
	}
}

func TestRenderExactTarget(t *testing.T) {
	tests := []sizing.Target{
		{Width: 100, Height: 100},
		{Width: 300, Height: 120},
		{Width: 1, Height: 1},
		{Width: 1000, Height: 1000},
	}
	for _, target := range tests {
		img, err := RenderImage(redSquare(t), target)
		if err != nil {
			t.Fatalf("RenderImage(%v): %v", target, err)
		}
		if img.Bounds().Dx() != target.Width || img.Bounds().Dy() != target.Height {
			t.Errorf("RenderImage(%v) bounds = %v", target, img.Bounds())
		}
	}
}

func TestRenderContainFit(t *testing.T) {
	wide := fixture(t, 200, 100, func(c *svg.SVG) {
		c.Rect(0, 0, 200, 100, `fill="red"`)
	})
	target := sizing.Target{Width: 100, Height: 100}

	img, err := RenderImage(wide, target, WithBackground(&color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	if err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	if !isWhite(img.At(50, 5)) {
		t.Errorf("padding = %v, want white", img.At(50, 5))
	}
	if !isRed(img.At(50, 50)) {
		t.Errorf("content = %v, want red", img.At(50, 50))
	}

	img, err = RenderImage(wide, target)
	if err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	if _, _, _, a := img.At(50, 5).RGBA(); a != 0 {
		t.Errorf("transparent padding alpha = %d, want 0", a)
	}
}

func TestContentRect(t *testing.T) {
	tests := []struct {
		w, h   float64
		target sizing.Target
		want   image.Rectangle
	}{
		{200, 100, sizing.Target{Width: 100, Height: 100}, image.Rect(0, 25, 100, 75)},
		{100, 200, sizing.Target{Width: 100, Height: 100}, image.Rect(25, 0, 75, 100)},
		{100, 100, sizing.Target{Width: 300, Height: 100}, image.Rect(100, 0, 200, 100)},
		{512, 512, sizing.Target{Width: 512, Height: 512}, image.Rect(0, 0, 512, 512)},
	}
	for _, tt := range tests {
		if got := ContentRect(tt.w, tt.h, tt.target); got != tt.want {
			t.Errorf("ContentRect(%v, %v, %v) = %v, want %v", tt.w, tt.h, tt.target, got, tt.want)
		}
	}
}

func TestRenderJPEGFlattens(t *testing.T) {
	// A small shape leaves most of the canvas transparent.
	doc := fixture(t, 100, 100, func(c *svg.SVG) {
		c.Circle(50, 50, 10, `fill="red"`)
	})
	out, err := Render(doc, FormatJPEG, sizing.Target{Width: 100, Height: 100})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !isWhite(img.At(2, 2)) {
		t.Errorf("corner = %v, want white matte", img.At(2, 2))
	}

	black := &color.NRGBA{A: 255}
	out, err = Render(doc, FormatJPEG, sizing.Target{Width: 100, Height: 100}, WithBackground(black))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, _ = jpeg.Decode(bytes.NewReader(out))
	if r, g, b, _ := img.At(2, 2).RGBA(); r>>8 > 20 || g>>8 > 20 || b>>8 > 20 {
		t.Errorf("corner = %v, want black matte", img.At(2, 2))
	}
}

func TestRenderTIFF(t *testing.T) {
	out, err := Render(redSquare(t), FormatTIFF, sizing.Target{Width: 64, Height: 32})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := tiff.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 64, Y: 32}) {
		t.Errorf("size = %v, want 64x32", got)
	}
}

func TestRenderWEBP(t *testing.T) {
	out, err := Render(redSquare(t), FormatWEBP, sizing.Target{Width: 48, Height: 48})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := webp.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 48, Y: 48}) {
		t.Errorf("size = %v, want 48x48", got)
	}
}

func TestRenderText(t *testing.T) {
	doc := fixture(t, 512, 512, func(c *svg.SVG) {
		c.Text(256, 490, "Preview", `text-anchor="middle"`, `font-size="40"`, `fill="#000"`)
	})
	img, err := RenderImage(doc, sizing.Target{Width: 512, Height: 512})
	if err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	var inked int
	for y := 440; y < 500; y++ {
		for x := 150; x < 360; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a > 0 {
				inked++
			}
		}
	}
	if inked == 0 {
		t.Error("expected text pixels near the bottom center")
	}
	if _, _, _, a := img.At(5, 5).RGBA(); a != 0 {
		t.Error("text pass painted outside the text box")
	}
}

func TestRenderErrors(t *testing.T) {
	doc := redSquare(t)
	if _, err := Render(doc, FormatSVG, sizing.Target{Width: 10, Height: 10}); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("svg format: got %v, want INVALID_FORMAT", err)
	}
	if _, err := Render(doc, FormatPNG, sizing.Target{}); !errors.Is(err, errors.ErrCodeInvalidSize) {
		t.Errorf("zero target: got %v, want INVALID_SIZE", err)
	}
	if err := Encode(&bytes.Buffer{}, image.NewRGBA(image.Rect(0, 0, 1, 1)), Format("bmp")); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("encode bmp: got %v, want INVALID_FORMAT", err)
	}
}

func TestSourceScale(t *testing.T) {
	r := renderer{sourceDPI: DefaultSourceDPI, maxSource: DefaultMaxSourcePixels}
	fr := frame{W: 100, H: 100}

	// Small targets supersample at print density.
	if got := r.sourceScale(fr, sizing.Target{Width: 50, Height: 50}); got != 300.0/96 {
		t.Errorf("density scale = %v, want %v", got, 300.0/96)
	}
	// Large targets are never upsampled from a smaller source.
	if got := r.sourceScale(fr, sizing.Target{Width: 2000, Height: 2000}); got != 20 {
		t.Errorf("fit scale = %v, want 20", got)
	}
	// The budget caps supersampling.
	r.maxSource = 100 * 100
	if got := r.sourceScale(fr, sizing.Target{Width: 50, Height: 50}); got != 1 {
		t.Errorf("budget scale = %v, want 1", got)
	}
}
