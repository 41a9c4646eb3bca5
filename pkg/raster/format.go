package raster

import (
	"fmt"
	"strings"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

// Format is an export output kind.
type Format string

// Output formats. FormatSVG is the vector passthrough and is never handled
// by Render.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWEBP Format = "webp"
	FormatTIFF Format = "tiff"
	FormatSVG  Format = "svg"
)

// ValidFormats is the set of supported output formats.
var ValidFormats = map[Format]bool{
	FormatPNG:  true,
	FormatJPEG: true,
	FormatWEBP: true,
	FormatTIFF: true,
	FormatSVG:  true,
}

var mediaTypes = map[Format]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatWEBP: "image/webp",
	FormatTIFF: "image/tiff",
	FormatSVG:  "image/svg+xml",
}

var extensions = map[Format]string{
	FormatPNG:  "png",
	FormatJPEG: "jpg",
	FormatWEBP: "webp",
	FormatTIFF: "tiff",
	FormatSVG:  "svg",
}

// ParseFormat normalizes a user-supplied format name. "jpg" and "tif" are
// accepted as aliases.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "jpg":
		f = FormatJPEG
	case "tif":
		f = FormatTIFF
	}
	if !ValidFormats[f] {
		return "", errors.New(errors.ErrCodeInvalidFormat, "invalid format: %q (must be one of: png, jpeg, webp, tiff, svg)", s)
	}
	return f, nil
}

// IsRaster reports whether f requires rasterization.
func (f Format) IsRaster() bool { return f != FormatSVG && ValidFormats[f] }

// HasAlpha reports whether the encoding keeps an alpha channel.
func (f Format) HasAlpha() bool { return f != FormatJPEG }

// MediaType returns the IANA media type for f.
func (f Format) MediaType() string { return mediaTypes[f] }

// Extension returns the conventional file extension, without a dot.
func (f Format) Extension() string { return extensions[f] }

// String implements fmt.Stringer.
func (f Format) String() string { return string(f) }

var _ fmt.Stringer = Format("")
