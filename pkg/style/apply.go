package style

import (
	"strconv"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

// ApplyString parses src, applies p and serializes the result.
func ApplyString(src string, p Payload) (string, error) {
	doc, err := svgdoc.ParseString(src)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeRenderFailed, err, "parse base document")
	}
	out, err := Apply(doc, p)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// Apply returns a styled copy of doc. The input is not modified.
func Apply(doc *svgdoc.Document, p Payload) (*svgdoc.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := doc.Clone()
	Sanitize(out)
	ensureNamespaces(out)

	defs := ensureSingleDefs(out, p.Defs != "")
	if p.Defs != "" {
		if err := mergeDefs(out, defs, p.Defs); err != nil {
			return nil, err
		}
	}

	applyBackground(out, defs, p)
	applyPaint(out, p)
	applyWatermark(out, p)

	return out, nil
}

func ensureNamespaces(doc *svgdoc.Document) {
	root := doc.Root()
	if v, _ := doc.Attr(root, "xmlns"); v != svgdoc.NamespaceSVG {
		doc.SetAttr(root, "xmlns", svgdoc.NamespaceSVG)
	}
	if v, _ := doc.Attr(root, "xmlns:xlink"); v != svgdoc.NamespaceXLink {
		doc.SetAttr(root, "xmlns:xlink", svgdoc.NamespaceXLink)
	}
}

// ensureSingleDefs folds every top-level <defs> into one container placed
// as the first child. A container is created only when create is true or
// one already exists. Returns svgdoc.None when there is no container.
func ensureSingleDefs(doc *svgdoc.Document, create bool) svgdoc.NodeID {
	root := doc.Root()
	primary := svgdoc.None
	for _, id := range doc.Children(root) {
		if doc.Kind(id) != svgdoc.KindElement || doc.Name(id) != "defs" {
			continue
		}
		if primary == svgdoc.None {
			primary = id
			continue
		}
		for _, c := range doc.Children(id) {
			doc.AppendChild(primary, c)
		}
		doc.Remove(id)
	}
	if primary == svgdoc.None {
		if !create {
			return svgdoc.None
		}
		primary = doc.NewElement("defs")
	}
	doc.InsertChild(root, 0, primary)
	return primary
}

func mergeDefs(doc *svgdoc.Document, defs svgdoc.NodeID, fragment string) error {
	frag, err := svgdoc.ParseFragment(fragment)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRenderFailed, err, "parse defs fragment")
	}
	Sanitize(frag)
	for _, c := range frag.Children(frag.Root()) {
		if frag.Kind(c) != svgdoc.KindElement {
			continue
		}
		doc.AppendChild(defs, doc.Import(frag, c))
	}
	return nil
}

func isBackground(doc *svgdoc.Document, id svgdoc.NodeID) bool {
	v, ok := doc.Attr(id, AttrBackground)
	return ok && v == "true" && doc.Name(id) == "rect"
}

func isWatermark(doc *svgdoc.Document, id svgdoc.NodeID) bool {
	v, ok := doc.Attr(id, AttrWatermark)
	return ok && v == "true"
}

func applyBackground(doc *svgdoc.Document, defs svgdoc.NodeID, p Payload) {
	root := doc.Root()
	bg := doc.Find(func(id svgdoc.NodeID) bool { return isBackground(doc, id) })

	if p.TransparentBackground() {
		for bg != svgdoc.None {
			doc.Remove(bg)
			bg = doc.Find(func(id svgdoc.NodeID) bool { return isBackground(doc, id) })
		}
		return
	}
	if p.BackgroundColor == "" {
		return
	}

	if bg == svgdoc.None {
		bg = doc.NewElement("rect", svgdoc.Attr{Name: AttrBackground, Value: "true"})
		index := 0
		if defs != svgdoc.None {
			index = doc.IndexOf(root, defs) + 1
		}
		doc.InsertChild(root, index, bg)
	}
	doc.SetAttr(bg, "x", "0")
	doc.SetAttr(bg, "y", "0")
	doc.SetAttr(bg, "width", "100%")
	doc.SetAttr(bg, "height", "100%")
	doc.SetAttr(bg, "fill", p.BackgroundColor)
	doc.RemoveAttr(bg, "stroke")
	doc.RemoveAttr(bg, "stroke-width")
	if p.BackgroundOpacity != nil {
		doc.SetAttr(bg, "fill-opacity", FormatOpacity(*p.BackgroundOpacity))
	} else {
		doc.RemoveAttr(bg, "fill-opacity")
	}
}

func applyPaint(doc *svgdoc.Document, p Payload) {
	doc.Walk(func(id svgdoc.NodeID) bool {
		if doc.Kind(id) != svgdoc.KindElement {
			return false
		}
		if doc.Name(id) == "defs" {
			// Gradient and pattern content keeps its own paint.
			return false
		}
		if !isShape(doc.Name(id)) || isBackground(doc, id) {
			return true
		}
		if p.FillColor != "" {
			doc.SetAttr(id, "fill", p.FillColor)
		}
		if p.StrokeColor != "" {
			doc.SetAttr(id, "stroke", p.StrokeColor)
		}
		if p.StrokeWidth != "" {
			doc.SetAttr(id, "stroke-width", p.StrokeWidth)
		}
		setOpacity(doc, id, "fill-opacity", p.FillOpacity)
		setOpacity(doc, id, "stroke-opacity", p.StrokeOpacity)
		return true
	})
}

func setOpacity(doc *svgdoc.Document, id svgdoc.NodeID, name string, v *float64) {
	if v == nil {
		doc.RemoveAttr(id, name)
		return
	}
	doc.SetAttr(id, name, FormatOpacity(*v))
}

func applyWatermark(doc *svgdoc.Document, p Payload) {
	root := doc.Root()
	for wm := doc.Find(func(id svgdoc.NodeID) bool { return isWatermark(doc, id) }); wm != svgdoc.None; wm = doc.Find(func(id svgdoc.NodeID) bool { return isWatermark(doc, id) }) {
		doc.Remove(wm)
	}
	if !p.WatermarkEnabled() {
		return
	}

	size := watermarkFontSize(doc)
	wm := doc.NewElement("text",
		svgdoc.Attr{Name: AttrWatermark, Value: "true"},
		svgdoc.Attr{Name: "x", Value: "50%"},
		svgdoc.Attr{Name: "y", Value: "96%"},
		svgdoc.Attr{Name: "text-anchor", Value: "middle"},
		svgdoc.Attr{Name: "font-family", Value: "sans-serif"},
		svgdoc.Attr{Name: "font-size", Value: size},
		svgdoc.Attr{Name: "fill", Value: "#000"},
		svgdoc.Attr{Name: "fill-opacity", Value: "0.25"},
	)
	doc.AppendChild(wm, doc.NewText(WatermarkLabel))
	doc.AppendChild(root, wm)
}

// watermarkFontSize is 4% of the document height in user units.
func watermarkFontSize(doc *svgdoc.Document) string {
	h := 1024.0
	if vb, ok := doc.ViewBox(); ok && vb[3] > 0 {
		h = vb[3]
	} else if raw, ok := doc.Attr(doc.Root(), "height"); ok {
		if v, err := strconv.ParseFloat(trimPx(raw), 64); err == nil && v > 0 {
			h = v
		}
	}
	return strconv.FormatFloat(h*0.04, 'f', 2, 64)
}

func trimPx(s string) string {
	if len(s) > 2 && s[len(s)-2:] == "px" {
		return s[:len(s)-2]
	}
	return s
}
