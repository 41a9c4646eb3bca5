package raster

import (
	"math"
	"strconv"
	"strings"

	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/style"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

// frame is the user-space rectangle mapped onto the source canvas.
type frame struct {
	X, Y, W, H float64
}

// textRun is a text element lifted out of the document. oksvg draws no
// text, so runs are painted in a second pass.
type textRun struct {
	Text    string
	X, Y    float64
	Size    float64
	Anchor  string
	Fill    string
	Opacity float64
}

// Lengths resolved against the viewBox width, height or normalized diagonal.
var (
	horizontalAttrs = map[string]bool{"x": true, "width": true, "cx": true, "rx": true, "x1": true, "x2": true, "fx": true}
	verticalAttrs   = map[string]bool{"y": true, "height": true, "cy": true, "ry": true, "y1": true, "y2": true, "fy": true}
	diagonalAttrs   = map[string]bool{"r": true, "stroke-width": true, "font-size": true}
)

// prepare rewrites a styled document into the subset oksvg understands:
// the root gets explicit numeric width, height and viewBox, percentage
// lengths are resolved, data-* markers are stripped and text elements are
// moved out into runs.
func prepare(doc *svgdoc.Document) (*svgdoc.Document, frame, []textRun) {
	out := doc.Clone()
	root := out.Root()

	fr := frame{}
	if vb, ok := out.ViewBox(); ok && vb[2] > 0 && vb[3] > 0 {
		fr = frame{X: vb[0], Y: vb[1], W: vb[2], H: vb[3]}
	} else {
		in := sizing.Intrinsic(out)
		fr = frame{W: in.Width, H: in.Height}
	}
	out.SetAttr(root, "viewBox", formatFloat(fr.X)+" "+formatFloat(fr.Y)+" "+formatFloat(fr.W)+" "+formatFloat(fr.H))
	out.SetAttr(root, "width", formatFloat(fr.W))
	out.SetAttr(root, "height", formatFloat(fr.H))

	var runs []textRun
	var texts []svgdoc.NodeID
	out.Walk(func(id svgdoc.NodeID) bool {
		if out.Kind(id) != svgdoc.KindElement {
			return true
		}
		switch out.Name(id) {
		case "text":
			texts = append(texts, id)
			if !insideDefs(out, id) {
				runs = append(runs, collectRun(out, id, fr))
			}
			return false
		}
		if v, _ := out.Attr(id, style.AttrBackground); v == "true" {
			// The background covers the viewBox even when it is offset.
			out.SetAttr(id, "x", formatFloat(fr.X))
			out.SetAttr(id, "y", formatFloat(fr.Y))
			out.SetAttr(id, "width", formatFloat(fr.W))
			out.SetAttr(id, "height", formatFloat(fr.H))
		}
		if id != root {
			resolveLengths(out, id, fr)
		}
		for _, a := range out.Attrs(id) {
			if strings.HasPrefix(a.Name, "data-") {
				out.RemoveAttr(id, a.Name)
			}
		}
		return true
	})
	for _, id := range texts {
		out.Remove(id)
	}
	return out, fr, runs
}

func insideDefs(doc *svgdoc.Document, id svgdoc.NodeID) bool {
	for p := doc.Parent(id); p != svgdoc.None; p = doc.Parent(p) {
		if doc.Name(p) == "defs" {
			return true
		}
	}
	return false
}

func resolveLengths(doc *svgdoc.Document, id svgdoc.NodeID, fr frame) {
	for _, a := range doc.Attrs(id) {
		if !strings.HasSuffix(strings.TrimSpace(a.Value), "%") {
			continue
		}
		// Gradient stops and gradient vectors use fractions of the bounding box.
		if name := doc.Name(id); name == "stop" || name == "linearGradient" || name == "radialGradient" {
			continue
		}
		if v, ok := resolveLength(a.Name, a.Value, fr); ok {
			doc.SetAttr(id, a.Name, formatFloat(v))
		}
	}
}

// resolveLength converts a length attribute value to user units. Plain
// numbers and "px" pass through; percentages resolve against the frame.
func resolveLength(name, raw string, fr frame) (float64, bool) {
	s := strings.TrimSpace(raw)
	if p, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case horizontalAttrs[name]:
			return fr.W * f / 100, true
		case verticalAttrs[name]:
			return fr.H * f / 100, true
		case diagonalAttrs[name]:
			return math.Hypot(fr.W, fr.H) / math.Sqrt2 * f / 100, true
		}
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func collectRun(doc *svgdoc.Document, id svgdoc.NodeID, fr frame) textRun {
	run := textRun{Size: 16, Anchor: "start", Fill: "#000", Opacity: 1}
	attr := func(name string) (string, bool) { return doc.Attr(id, name) }

	if v, ok := attr("x"); ok {
		run.X, _ = resolveLength("x", firstToken(v), fr)
	}
	if v, ok := attr("y"); ok {
		run.Y, _ = resolveLength("y", firstToken(v), fr)
	}
	if v, ok := attr("font-size"); ok {
		if s, ok := resolveLength("font-size", v, fr); ok && s > 0 {
			run.Size = s
		}
	}
	if v, ok := attr("text-anchor"); ok {
		run.Anchor = v
	}
	if v, ok := attr("fill"); ok {
		run.Fill = v
	}
	for _, name := range []string{"opacity", "fill-opacity"} {
		if v, ok := attr(name); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				run.Opacity *= math.Max(0, math.Min(1, f))
			}
		}
	}

	var sb strings.Builder
	collectText(doc, id, &sb)
	run.Text = strings.Join(strings.Fields(sb.String()), " ")
	return run
}

func collectText(doc *svgdoc.Document, id svgdoc.NodeID, sb *strings.Builder) {
	for _, c := range doc.Children(id) {
		if doc.Kind(c) == svgdoc.KindText {
			sb.WriteString(doc.Text(c))
			sb.WriteByte(' ')
			continue
		}
		collectText(doc, c, sb)
	}
}

func firstToken(s string) string {
	if f := strings.Fields(strings.ReplaceAll(s, ",", " ")); len(f) > 0 {
		return f[0]
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
