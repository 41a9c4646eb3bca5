package style

import (
	"strings"

	"github.com/samber/lo"

	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

// element kinds that survive sanitization.
type elementKind uint8

const (
	kindContainer elementKind = iota
	kindShape
	kindText
	kindGradient
	kindGradientStop
	kindPattern
	kindImage
)

var elementKinds = map[string]elementKind{
	"svg":            kindContainer,
	"g":              kindContainer,
	"defs":           kindContainer,
	"path":           kindShape,
	"rect":           kindShape,
	"circle":         kindShape,
	"ellipse":        kindShape,
	"line":           kindShape,
	"polyline":       kindShape,
	"polygon":        kindShape,
	"text":           kindText,
	"tspan":          kindText,
	"linearGradient": kindGradient,
	"radialGradient": kindGradient,
	"stop":           kindGradientStop,
	"pattern":        kindPattern,
	"image":          kindImage,
}

// shapeElements receive paint from a Payload.
var shapeElements = lo.Keys(lo.PickBy(elementKinds, func(_ string, k elementKind) bool {
	return k == kindShape
}))

func isShape(name string) bool { return lo.Contains(shapeElements, name) }

// presentation attributes allowed on every drawable element.
var presentationAttrs = []string{
	"id", "class", "transform", "opacity", "visibility", "display",
	"fill", "fill-opacity", "fill-rule", "clip-rule",
	"stroke", "stroke-opacity", "stroke-width", "stroke-linecap",
	"stroke-linejoin", "stroke-miterlimit", "stroke-dasharray", "stroke-dashoffset",
	"data-background", "data-watermark",
}

var geometryAttrs = map[string][]string{
	"svg":      {"width", "height", "viewBox", "preserveAspectRatio", "x", "y", "version", "xmlns", "xmlns:xlink"},
	"g":        nil,
	"defs":     nil,
	"path":     {"d", "pathLength"},
	"rect":     {"x", "y", "width", "height", "rx", "ry"},
	"circle":   {"cx", "cy", "r"},
	"ellipse":  {"cx", "cy", "rx", "ry"},
	"line":     {"x1", "y1", "x2", "y2"},
	"polyline": {"points"},
	"polygon":  {"points"},
	"text":     {"x", "y", "dx", "dy", "text-anchor", "dominant-baseline", "font-family", "font-size", "font-weight", "font-style", "letter-spacing"},
	"tspan":    {"x", "y", "dx", "dy", "text-anchor", "font-family", "font-size", "font-weight", "font-style"},
	"image":    {"x", "y", "width", "height", "preserveAspectRatio", "href", "xlink:href"},
}

var defsAttrs = map[elementKind][]string{
	kindGradient:     {"id", "x1", "y1", "x2", "y2", "cx", "cy", "r", "fx", "fy", "fr", "gradientUnits", "gradientTransform", "spreadMethod", "href", "xlink:href"},
	kindGradientStop: {"id", "offset", "stop-color", "stop-opacity"},
	kindPattern:      {"id", "x", "y", "width", "height", "patternUnits", "patternContentUnits", "patternTransform", "viewBox", "preserveAspectRatio"},
}

// allowed returns the attribute allow-list for an element name.
var allowed = buildAllowList()

func buildAllowList() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(elementKinds))
	for name, kind := range elementKinds {
		set := map[string]bool{}
		switch kind {
		case kindGradient, kindGradientStop, kindPattern:
			for _, a := range defsAttrs[kind] {
				set[a] = true
			}
		default:
			for _, a := range presentationAttrs {
				set[a] = true
			}
			for _, a := range geometryAttrs[name] {
				set[a] = true
			}
		}
		out[name] = set
	}
	return out
}

// Sanitize removes every element and attribute outside the allow-list,
// in place. Disallowed content is dropped silently.
func Sanitize(doc *svgdoc.Document) {
	root := doc.Root()
	if _, ok := elementKinds[doc.Name(root)]; !ok {
		// An unknown root keeps nothing but its children's allowed content.
		doc.SetAttrs(root, nil)
	} else {
		sanitizeAttrs(doc, root)
	}
	sanitizeChildren(doc, root)
}

func sanitizeChildren(doc *svgdoc.Document, parent svgdoc.NodeID) {
	parentName := doc.Name(parent)
	for _, id := range doc.Children(parent) {
		if doc.Kind(id) == svgdoc.KindText {
			if k, ok := elementKinds[parentName]; !ok || k != kindText {
				doc.Remove(id)
			}
			continue
		}
		if _, ok := elementKinds[doc.Name(id)]; !ok {
			doc.Remove(id)
			continue
		}
		sanitizeAttrs(doc, id)
		sanitizeChildren(doc, id)
	}
}

func sanitizeAttrs(doc *svgdoc.Document, id svgdoc.NodeID) {
	set := allowed[doc.Name(id)]
	kept := lo.Filter(doc.Attrs(id), func(a svgdoc.Attr, _ int) bool {
		if !set[a.Name] {
			return false
		}
		return safeValue(doc.Name(id), a)
	})
	doc.SetAttrs(id, kept)
}

// safeValue rejects attribute values that can reach outside the document.
func safeValue(element string, a svgdoc.Attr) bool {
	v := strings.ToLower(strings.TrimSpace(a.Value))
	if strings.Contains(v, "javascript:") || strings.Contains(v, "vbscript:") {
		return false
	}
	switch a.Name {
	case "href", "xlink:href":
		if strings.HasPrefix(v, "#") {
			return true
		}
		return element == "image" && strings.HasPrefix(v, "data:image/")
	case "fill", "stroke":
		// Paint servers may only reference local fragments.
		if strings.HasPrefix(v, "url(") {
			return strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(v, "url(")), "#")
		}
	}
	return true
}
