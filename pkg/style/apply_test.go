package style

import (
	"bytes"
	"strings"
	"testing"

	svg "github.com/ajstarks/svgo"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

func ptr[T any](v T) *T { return &v }

// baseDoc builds a 512x512 single-path document with svgo.
func baseDoc(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Startview(512, 512, 0, 0, 512, 512)
	canvas.Path("M10 10 L500 10 L250 500 Z", `fill="red"`)
	canvas.End()
	return buf.String()
}

func mustParse(t *testing.T, s string) *svgdoc.Document {
	t.Helper()
	d, err := svgdoc.ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, s)
	}
	return d
}

func findAll(d *svgdoc.Document, pred func(id svgdoc.NodeID) bool) []svgdoc.NodeID {
	var out []svgdoc.NodeID
	d.Walk(func(id svgdoc.NodeID) bool {
		if d.Kind(id) == svgdoc.KindElement && pred(id) {
			out = append(out, id)
		}
		return true
	})
	return out
}

func named(d *svgdoc.Document, name string) []svgdoc.NodeID {
	return findAll(d, func(id svgdoc.NodeID) bool { return d.Name(id) == name })
}

func TestApplyPaint(t *testing.T) {
	out, err := ApplyString(baseDoc(t), Payload{
		FillColor:   "#112233",
		StrokeColor: "#000",
		StrokeWidth: "2",
	})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)

	paths := named(d, "path")
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	for attr, want := range map[string]string{"fill": "#112233", "stroke": "#000", "stroke-width": "2"} {
		if got, _ := d.Attr(paths[0], attr); got != want {
			t.Errorf("%s = %q, want %q", attr, got, want)
		}
	}
	if _, ok := d.Attr(paths[0], "fill-opacity"); ok {
		t.Error("fill-opacity should be absent when not requested")
	}
}

func TestNamespacesAndProlog(t *testing.T) {
	out, err := ApplyString(`<svg viewBox="0 0 10 10"><path d="M0 0"/></svg>`, Payload{})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	if !strings.HasPrefix(out, "<?xml") {
		t.Errorf("prolog should be prepended: %s", out)
	}
	d := mustParse(t, out)
	if v, _ := d.Attr(d.Root(), "xmlns"); v != svgdoc.NamespaceSVG {
		t.Errorf("xmlns = %q", v)
	}
	if v, _ := d.Attr(d.Root(), "xmlns:xlink"); v != svgdoc.NamespaceXLink {
		t.Errorf("xmlns:xlink = %q", v)
	}

	// svgo output already starts with a prolog; it must not be doubled.
	out, err = ApplyString(baseDoc(t), Payload{})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	if n := strings.Count(out, "<?xml"); n != 1 {
		t.Errorf("prolog count = %d, want 1", n)
	}
}

func TestOpacityClearing(t *testing.T) {
	first, err := ApplyString(baseDoc(t), Payload{FillColor: "#112233", FillOpacity: ptr(0.5)})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, first)
	if v, _ := d.Attr(named(d, "path")[0], "fill-opacity"); v != "0.5" {
		t.Fatalf("fill-opacity = %q, want 0.5", v)
	}

	second, err := ApplyString(first, Payload{FillColor: "#112233"})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d = mustParse(t, second)
	for _, id := range named(d, "path") {
		if v, ok := d.Attr(id, "fill-opacity"); ok {
			t.Errorf("stale fill-opacity %q should be cleared", v)
		}
	}
}

func TestOpacityClamped(t *testing.T) {
	out, err := ApplyString(baseDoc(t), Payload{FillOpacity: ptr(1.7), StrokeOpacity: ptr(-3.0)})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)
	p := named(d, "path")[0]
	if v, _ := d.Attr(p, "fill-opacity"); v != "1" {
		t.Errorf("fill-opacity = %q, want 1", v)
	}
	if v, _ := d.Attr(p, "stroke-opacity"); v != "0" {
		t.Errorf("stroke-opacity = %q, want 0", v)
	}
}

func TestBackground(t *testing.T) {
	isBg := func(d *svgdoc.Document) []svgdoc.NodeID {
		return findAll(d, func(id svgdoc.NodeID) bool { return isBackground(d, id) })
	}

	out, err := ApplyString(baseDoc(t), Payload{BackgroundColor: "#fff", BackgroundOpacity: ptr(0.8)})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)
	bgs := isBg(d)
	if len(bgs) != 1 {
		t.Fatalf("background markers = %d, want 1", len(bgs))
	}
	bg := bgs[0]
	if d.IndexOf(d.Root(), bg) != 0 {
		t.Errorf("background should be first child without defs, got index %d", d.IndexOf(d.Root(), bg))
	}
	for attr, want := range map[string]string{"x": "0", "y": "0", "width": "100%", "height": "100%", "fill": "#fff", "fill-opacity": "0.8"} {
		if got, _ := d.Attr(bg, attr); got != want {
			t.Errorf("background %s = %q, want %q", attr, got, want)
		}
	}

	// Re-applying updates the same marker instead of adding one.
	again, err := ApplyString(out, Payload{BackgroundColor: "#000", FillColor: "#abc"})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d = mustParse(t, again)
	bgs = isBg(d)
	if len(bgs) != 1 {
		t.Fatalf("background markers = %d, want 1", len(bgs))
	}
	if v, _ := d.Attr(bgs[0], "fill"); v != "#000" {
		t.Errorf("background fill = %q, want #000 (paint must skip the marker)", v)
	}
	if _, ok := d.Attr(bgs[0], "fill-opacity"); ok {
		t.Error("background fill-opacity should be cleared")
	}
}

func TestBackgroundSentinel(t *testing.T) {
	withBg, err := ApplyString(baseDoc(t), Payload{BackgroundColor: "#fff"})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}

	tests := []struct {
		name string
		p    Payload
	}{
		{"none sentinel", Payload{BackgroundColor: BackgroundNone}},
		{"zero opacity", Payload{BackgroundColor: "#fff", BackgroundOpacity: ptr(0.0)}},
		{"negative opacity", Payload{BackgroundColor: "#fff", BackgroundOpacity: ptr(-1.0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ApplyString(withBg, tt.p)
			if err != nil {
				t.Fatalf("ApplyString: %v", err)
			}
			if strings.Contains(out, AttrBackground) {
				t.Errorf("background marker should be removed: %s", out)
			}
		})
	}
}

func TestBackgroundAfterDefs(t *testing.T) {
	out, err := ApplyString(baseDoc(t), Payload{
		BackgroundColor: "#fff",
		Defs:            `<linearGradient id="g1"><stop offset="0" stop-color="#f00"/></linearGradient>`,
	})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)
	kids := d.Children(d.Root())
	if d.Name(kids[0]) != "defs" {
		t.Fatalf("first child = %q, want defs", d.Name(kids[0]))
	}
	if !isBackground(d, kids[1]) {
		t.Errorf("second child should be the background marker, got %q", d.Name(kids[1]))
	}
}

func TestDefsMerge(t *testing.T) {
	src := `<svg viewBox="0 0 10 10"><path d="M0 0"/><defs><pattern id="p1"/></defs><defs><radialGradient id="r1"/></defs></svg>`
	out, err := ApplyString(src, Payload{
		Defs: `<linearGradient id="g1" onload="alert(1)"><stop offset="1"/></linearGradient><script>alert(1)</script><foreignObject/>`,
	})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)

	defs := named(d, "defs")
	if len(defs) != 1 {
		t.Fatalf("defs containers = %d, want 1", len(defs))
	}
	if d.IndexOf(d.Root(), defs[0]) != 0 {
		t.Error("defs should be the first child")
	}
	var ids []string
	for _, c := range d.Children(defs[0]) {
		v, _ := d.Attr(c, "id")
		ids = append(ids, v)
	}
	if got := strings.Join(ids, ","); got != "p1,r1,g1" {
		t.Errorf("defs children = %s, want p1,r1,g1", got)
	}
	if strings.Contains(out, "script") || strings.Contains(out, "onload") || strings.Contains(out, "foreignObject") {
		t.Errorf("unsafe content leaked: %s", out)
	}
}

func TestSanitizeBaseDocument(t *testing.T) {
	src := `<svg viewBox="0 0 10 10" onload="x()">
<script>alert(1)</script>
<g onclick="x()"><path d="M0 0" fill="url(javascript:alert(1))"/></g>
<image href="https://evil.example/x.png"/>
<image xlink:href="data:image/png;base64,AAAA"/>
<a href="#x"><rect width="1" height="1"/></a>
<foreignObject><div>hi</div></foreignObject>
</svg>`
	out, err := ApplyString(src, Payload{IncludeWatermark: ptr(false)})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	for _, bad := range []string{"script", "onload", "onclick", "javascript", "evil.example", "<a ", "foreignObject", "<div"} {
		if strings.Contains(out, bad) {
			t.Errorf("output should not contain %q:\n%s", bad, out)
		}
	}
	if !strings.Contains(out, "data:image/png;base64,AAAA") {
		t.Error("data URI images should survive")
	}
}

func TestWatermark(t *testing.T) {
	out, err := ApplyString(baseDoc(t), Payload{})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	d := mustParse(t, out)
	kids := d.Children(d.Root())
	last := kids[len(kids)-1]
	if !isWatermark(d, last) {
		t.Fatalf("last child should be the watermark, got %q", d.Name(last))
	}
	if v, _ := d.Attr(last, "font-size"); v != "20.48" {
		t.Errorf("font-size = %q, want 20.48", v)
	}

	// Re-styling a watermarked document keeps a single label.
	again, err := ApplyString(out, Payload{})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	if n := strings.Count(again, WatermarkLabel); n != 1 {
		t.Errorf("watermark count = %d, want 1", n)
	}

	off, err := ApplyString(out, Payload{IncludeWatermark: ptr(false)})
	if err != nil {
		t.Fatalf("ApplyString: %v", err)
	}
	if strings.Contains(off, AttrWatermark) {
		t.Error("watermark should be removed when disabled")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	d := mustParse(t, baseDoc(t))
	before := d.String()
	if _, err := Apply(d, Payload{FillColor: "#000", BackgroundColor: "#fff"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.String() != before {
		t.Error("Apply must not modify its input")
	}
}

func TestApplyErrors(t *testing.T) {
	if _, err := ApplyString("<svg><g></svg>", Payload{}); !errors.Is(err, errors.ErrCodeRenderFailed) {
		t.Errorf("malformed base: got %v, want RENDER_FAILED", err)
	}
	if _, err := ApplyString(baseDoc(t), Payload{Defs: "<linearGradient>"}); !errors.Is(err, errors.ErrCodeRenderFailed) {
		t.Errorf("malformed defs: got %v, want RENDER_FAILED", err)
	}
	if _, err := ApplyString(baseDoc(t), Payload{StrokeWidth: "wide"}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("bad stroke width: got %v, want INVALID_INPUT", err)
	}
}

func TestFormatOpacity(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.5, "0.5"},
		{1, "1"},
		{0, "0"},
		{2, "1"},
		{-0.1, "0"},
		{0.125, "0.125"},
	}
	for _, tt := range tests {
		if got := FormatOpacity(tt.in); got != tt.want {
			t.Errorf("FormatOpacity(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
