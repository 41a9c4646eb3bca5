// Package style applies user-supplied paint, opacity, background and
// decorative definitions to a base SVG document.
//
// Every call sanitizes its input first: the base document and any injected
// <defs> fragment pass through a fixed allow-list of element kinds and
// per-kind attributes. Disallowed content is dropped rather than reported.
//
// # Usage
//
//	out, err := style.ApplyString(base, style.Payload{
//	    FillColor:       "#112233",
//	    StrokeColor:     "#000",
//	    StrokeWidth:     "2",
//	    BackgroundColor: "#fff",
//	})
//
// Apply never mutates its input document; callers always receive a new
// document. Re-applying a payload to an already styled document replaces
// the previous background and watermark instead of stacking them, but
// callers should style the pristine base document on every request.
package style

import (
	"math"
	"strconv"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

// BackgroundNone is the background sentinel for full transparency.
const BackgroundNone = "none"

// Marker attributes identifying the generated background and watermark.
const (
	AttrBackground = "data-background"
	AttrWatermark  = "data-watermark"
)

// WatermarkLabel is the fixed preview label.
const WatermarkLabel = "Preview"

// Payload is the caller-supplied style. Pointer fields are optional; nil
// means "no explicit attribute", which is different from zero.
type Payload struct {
	FillColor         string   `json:"fill_color,omitempty"`
	FillOpacity       *float64 `json:"fill_opacity,omitempty"`
	StrokeColor       string   `json:"stroke_color,omitempty"`
	StrokeOpacity     *float64 `json:"stroke_opacity,omitempty"`
	StrokeWidth       string   `json:"stroke_width,omitempty"`
	BackgroundColor   string   `json:"background_color,omitempty"`
	BackgroundOpacity *float64 `json:"background_opacity,omitempty"`
	IncludeWatermark  *bool    `json:"include_watermark,omitempty"`
	Defs              string   `json:"defs,omitempty"`
}

// WatermarkEnabled reports whether the watermark should be drawn.
// The default is true.
func (p Payload) WatermarkEnabled() bool {
	return p.IncludeWatermark == nil || *p.IncludeWatermark
}

// TransparentBackground reports whether the payload asks for no background.
func (p Payload) TransparentBackground() bool {
	if p.BackgroundColor == BackgroundNone {
		return true
	}
	return p.BackgroundOpacity != nil && *p.BackgroundOpacity <= 0
}

// Validate checks the payload for values that can never be rendered.
func (p Payload) Validate() error {
	for name, v := range map[string]*float64{
		"fill_opacity":       p.FillOpacity,
		"stroke_opacity":     p.StrokeOpacity,
		"background_opacity": p.BackgroundOpacity,
	} {
		if v != nil && math.IsNaN(*v) {
			return errors.New(errors.ErrCodeInvalidInput, "%s is not a number", name)
		}
	}
	if p.StrokeWidth != "" {
		w, err := strconv.ParseFloat(p.StrokeWidth, 64)
		if err != nil || w < 0 || math.IsInf(w, 0) {
			return errors.New(errors.ErrCodeInvalidInput, "invalid stroke_width: %q", p.StrokeWidth)
		}
	}
	return nil
}

// FormatOpacity clamps v into [0,1] and formats it as a short decimal.
func FormatOpacity(v float64) string {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
