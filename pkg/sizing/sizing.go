// Package sizing resolves the pixel size of a raster export.
//
// A Target is derived once per render from the document's intrinsic size and
// a Request. Explicit dimensions win over a print spec, which wins over a
// scale factor; with none of them the intrinsic size is used. The result is
// always clamped so that neither side exceeds MaxSide and the pixel area
// stays within MaxPixels.
package sizing

import (
	"math"
	"strconv"
	"strings"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

const (
	// MaxSide is the largest allowed width or height in pixels.
	MaxSide = 10_000

	// MaxPixels is the largest allowed pixel area (64 MiP).
	MaxPixels = 64 << 20

	// DefaultSide is used when a document declares no usable size.
	DefaultSide = 1024

	mmPerInch = 25.4
)

// Unit is a physical length unit for print specs.
type Unit string

const (
	UnitInch       Unit = "inch"
	UnitMillimeter Unit = "millimeter"
)

// Target is a resolved raster size in pixels.
type Target struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size is an intrinsic document size in user units.
type Size struct {
	Width  float64
	Height float64
}

// PrintSpec requests a physical output size at a given DPI.
type PrintSpec struct {
	Unit   Unit    `json:"unit"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DPI    float64 `json:"dpi"`
}

// Request selects how the target is derived. The zero value means
// "intrinsic size".
type Request struct {
	Width  *int       `json:"width,omitempty"`
	Height *int       `json:"height,omitempty"`
	Scale  *float64   `json:"scale,omitempty"`
	Print  *PrintSpec `json:"print,omitempty"`
}

// Validate rejects malformed requests.
func (r Request) Validate() error {
	if r.Width != nil && *r.Width <= 0 {
		return errors.New(errors.ErrCodeInvalidSize, "width must be positive, got %d", *r.Width)
	}
	if r.Height != nil && *r.Height <= 0 {
		return errors.New(errors.ErrCodeInvalidSize, "height must be positive, got %d", *r.Height)
	}
	if r.Scale != nil && (!finite(*r.Scale) || *r.Scale <= 0) {
		return errors.New(errors.ErrCodeInvalidSize, "scale must be a positive number")
	}
	if p := r.Print; p != nil {
		switch p.Unit {
		case UnitInch, UnitMillimeter:
		default:
			return errors.New(errors.ErrCodeInvalidSize, "invalid print unit: %q (must be inch or millimeter)", p.Unit)
		}
		if !finite(p.DPI) || p.DPI <= 0 {
			return errors.New(errors.ErrCodeInvalidSize, "dpi must be positive")
		}
		if !finite(p.Width) || !finite(p.Height) || p.Width <= 0 || p.Height <= 0 {
			return errors.New(errors.ErrCodeInvalidSize, "print width and height must be positive")
		}
	}
	return nil
}

// Intrinsic extracts the document's logical size: viewBox width/height,
// then the root width/height attributes, then DefaultSide square. A
// candidate pair is skipped when either value is non-positive or not finite.
func Intrinsic(doc *svgdoc.Document) Size {
	if vb, ok := doc.ViewBox(); ok && positive(vb[2]) && positive(vb[3]) {
		return Size{Width: vb[2], Height: vb[3]}
	}
	w, wok := lengthAttr(doc, "width")
	h, hok := lengthAttr(doc, "height")
	if wok && hok {
		return Size{Width: w, Height: h}
	}
	return Size{Width: DefaultSide, Height: DefaultSide}
}

// Resolve computes the clamped raster target for doc.
func Resolve(doc *svgdoc.Document, req Request) Target {
	return ResolveSize(Intrinsic(doc), req)
}

// ResolveSize computes the clamped raster target for an intrinsic size.
func ResolveSize(in Size, req Request) Target {
	var w, h float64
	switch {
	case req.Width != nil || req.Height != nil:
		w, h = explicit(in, req.Width, req.Height)
	case req.Print != nil:
		w, h = printPixels(*req.Print)
	case req.Scale != nil && *req.Scale > 0 && finite(*req.Scale):
		w = math.Round(in.Width * *req.Scale)
		h = math.Round(in.Height * *req.Scale)
	default:
		w, h = in.Width, in.Height
	}
	return Clamp(w, h)
}

func explicit(in Size, width, height *int) (float64, float64) {
	aspect := in.Width / in.Height
	switch {
	case width != nil && height != nil:
		return float64(*width), float64(*height)
	case width != nil:
		return float64(*width), math.Max(1, math.Round(float64(*width)/aspect))
	default:
		return math.Max(1, math.Round(float64(*height)*aspect)), float64(*height)
	}
}

func printPixels(p PrintSpec) (float64, float64) {
	w, h := p.Width, p.Height
	if p.Unit == UnitMillimeter {
		w /= mmPerInch
		h /= mmPerInch
	}
	return math.Round(w * p.DPI), math.Round(h * p.DPI)
}

// Clamp applies the side cap and then the area cap. Both stages floor and
// never go below 1. The order matters: an area-only clamp can leave one side
// of an extreme aspect ratio above MaxSide.
func Clamp(w, h float64) Target {
	if !finite(w) || w < 1 {
		w = 1
	}
	if !finite(h) || h < 1 {
		h = 1
	}

	if w > MaxSide || h > MaxSide {
		s := MaxSide / math.Max(w, h)
		w = math.Max(1, math.Floor(w*s))
		h = math.Max(1, math.Floor(h*s))
	}
	if w*h > MaxPixels {
		s := math.Sqrt(MaxPixels / (w * h))
		w = math.Max(1, math.Floor(w*s))
		h = math.Max(1, math.Floor(h*s))
	}
	return Target{Width: int(w), Height: int(h)}
}

func lengthAttr(doc *svgdoc.Document, name string) (float64, bool) {
	raw, ok := doc.Attr(doc.Root(), name)
	if !ok {
		return 0, false
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !positive(v) {
		return 0, false
	}
	return v, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func positive(v float64) bool { return finite(v) && v > 0 }
