package raster

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

var namedColors = map[string]color.NRGBA{
	"white":  {0xff, 0xff, 0xff, 0xff},
	"black":  {0x00, 0x00, 0x00, 0xff},
	"red":    {0xff, 0x00, 0x00, 0xff},
	"green":  {0x00, 0x80, 0x00, 0xff},
	"blue":   {0x00, 0x00, 0xff, 0xff},
	"yellow": {0xff, 0xff, 0x00, 0xff},
	"gray":   {0x80, 0x80, 0x80, 0xff},
	"grey":   {0x80, 0x80, 0x80, 0xff},
}

// ParseColor parses a solid canvas color. It returns nil for the empty
// string, "none" and "transparent". Supported forms: #rgb, #rrggbb,
// #rrggbbaa, rgb(r,g,b), rgba(r,g,b,a) and a few color names.
func ParseColor(s string) (*color.NRGBA, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "none", "transparent":
		return nil, nil
	}
	if c, ok := namedColors[v]; ok {
		return &c, nil
	}
	if strings.HasPrefix(v, "#") {
		return parseHex(v[1:], s)
	}
	if strings.HasPrefix(v, "rgb(") || strings.HasPrefix(v, "rgba(") {
		return parseFunc(v, s)
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "unsupported color: %q", s)
}

func parseHex(h, orig string) (*color.NRGBA, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid hex color: %q", orig)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid hex color: %q", orig)
	}
	return &color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

func parseFunc(v, orig string) (*color.NRGBA, error) {
	open, end := strings.IndexByte(v, '('), strings.LastIndexByte(v, ')')
	if open < 0 || end < open {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid color: %q", orig)
	}
	parts := strings.Split(v[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid color: %q", orig)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "invalid color channel in %q", orig)
		}
		ch[i] = uint8(n)
	}
	a := uint8(0xff)
	if len(parts) == 4 {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "invalid alpha in %q", orig)
		}
		a = uint8(f*255 + 0.5)
	}
	return &color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: a}, nil
}
