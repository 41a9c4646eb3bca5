// Package raster turns a styled SVG document into PNG, JPEG, WEBP or TIFF
// bytes of an exact pixel size.
//
// Rendering happens in two steps. The vector source is first rasterized with
// oksvg and rasterx at a print density (DefaultSourceDPI over 96 CSS pixels
// per inch), bounded by a source pixel budget and never below what the target
// needs. The source canvas is then resampled with a Catmull-Rom filter into a
// canvas of exactly the target size, contain-fit and centered:
//
//	out, err := raster.Render(doc, raster.FormatPNG, sizing.Target{Width: 512, Height: 512},
//	    raster.WithBackground(bg))
//
// oksvg has no text support, so text elements are lifted out of the document
// and drawn in a separate pass with the embedded Go Regular face.
//
// JPEG output is always flattened onto the background, or onto white when the
// background is transparent. Every parse, draw or encode failure is reported
// as RENDER_FAILED.
package raster
