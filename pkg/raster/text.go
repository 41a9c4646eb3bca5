package raster

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	fontOnce sync.Once
	fontFace *opentype.Font
	fontErr  error
)

func regularFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		fontFace, fontErr = opentype.Parse(goregular.TTF)
	})
	return fontFace, fontErr
}

// drawText paints text runs onto the source canvas. sx and sy map user
// units to canvas pixels. Every run uses the embedded Go Regular face;
// font-family is not honored.
func drawText(dst *image.RGBA, runs []textRun, fr frame, sx, sy float64) error {
	if len(runs) == 0 {
		return nil
	}
	f, err := regularFont()
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.Text == "" || run.Opacity <= 0 || run.Fill == "none" {
			continue
		}
		size := run.Size * sy
		if size < 1 {
			continue
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingNone,
		})
		if err != nil {
			return err
		}

		d := &font.Drawer{Dst: dst, Src: image.NewUniform(runColor(run)), Face: face}
		x := (run.X - fr.X) * sx
		y := (run.Y - fr.Y) * sy
		w := float64(d.MeasureString(run.Text)) / 64
		switch run.Anchor {
		case "middle":
			x -= w / 2
		case "end":
			x -= w
		}
		d.Dot = fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)}
		d.DrawString(run.Text)
		face.Close()
	}
	return nil
}

func runColor(run textRun) color.Color {
	c, err := ParseColor(run.Fill)
	if err != nil || c == nil {
		// url() paints and unknown names fall back to black.
		c = &color.NRGBA{A: 0xff}
	}
	out := *c
	out.A = uint8(float64(out.A)*run.Opacity + 0.5)
	return out
}
