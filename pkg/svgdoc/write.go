package svgdoc

import (
	"encoding/xml"
	"io"
	"strings"
)

// String serializes the reachable tree with exactly one XML prolog.
func (d *Document) String() string {
	var b strings.Builder
	_, _ = d.WriteTo(&b)
	return b.String()
}

// WriteTo serializes the document to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	if d.prolog != "" {
		cw.str("<?" + d.prolog + "?>")
	} else {
		cw.str(DefaultProlog)
	}
	cw.str("\n")
	d.writeNode(cw, d.root)
	return cw.n, cw.err
}

// ElementString serializes the subtree rooted at id without a prolog.
func (d *Document) ElementString(id NodeID) string {
	var b strings.Builder
	d.writeNode(&countWriter{w: &b}, id)
	return b.String()
}

func (d *Document) writeNode(w *countWriter, id NodeID) {
	n := &d.nodes[id]
	if n.Kind == KindText {
		w.escape(n.Text)
		return
	}
	w.str("<" + n.Name)
	for _, a := range n.Attrs {
		w.str(" " + a.Name + `="`)
		w.escape(a.Value)
		w.str(`"`)
	}
	if len(n.Children) == 0 {
		w.str("/>")
		return
	}
	w.str(">")
	for _, c := range n.Children {
		d.writeNode(w, c)
	}
	w.str("</" + n.Name + ">")
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countWriter) str(s string) {
	if c.err != nil {
		return
	}
	n, err := io.WriteString(c.w, s)
	c.n += int64(n)
	c.err = err
}

func (c *countWriter) escape(s string) {
	if c.err != nil {
		return
	}
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	c.str(b.String())
}
