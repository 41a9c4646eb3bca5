package raster

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/gen2brain/webp"
	"golang.org/x/image/tiff"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

// Quality used by the lossy encoders.
const Quality = 92

var pngEncoder = png.Encoder{CompressionLevel: png.BestCompression}

// Encode writes img in the given raster format. JPEG drops alpha, so callers
// that need a specific matte must flatten before encoding; Render does.
func Encode(w io.Writer, img image.Image, format Format) error {
	var err error
	switch format {
	case FormatPNG:
		err = pngEncoder.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: Quality})
	case FormatWEBP:
		err = webp.Encode(w, img, webp.Options{Quality: Quality})
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return errors.New(errors.ErrCodeInvalidFormat, "not a raster format: %q", format)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeRenderFailed, err, "encode %s", format)
	}
	return nil
}
