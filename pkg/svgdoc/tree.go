package svgdoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// Standard namespace URIs declared on every transformed root.
const (
	NamespaceSVG   = "http://www.w3.org/2000/svg"
	NamespaceXLink = "http://www.w3.org/1999/xlink"
)

// DefaultProlog is emitted when the source document had none.
const DefaultProlog = `<?xml version="1.0" encoding="UTF-8"?>`

// ErrEmptyDocument is returned when the input contains no root element.
var ErrEmptyDocument = errors.New("svgdoc: no root element")

// NodeID addresses a node inside a Document arena.
type NodeID int

// None is the zero parent of the root node.
const None NodeID = -1

// Kind distinguishes element nodes from character data.
type Kind uint8

const (
	KindElement Kind = iota
	KindText
)

// Attr is a single attribute. Name keeps its prefix ("xlink:href").
type Attr struct {
	Name  string
	Value string
}

// Node is one arena entry.
type Node struct {
	Kind     Kind
	Name     string // qualified element name; empty for text
	Text     string // character data; empty for elements
	Attrs    []Attr
	Parent   NodeID
	Children []NodeID
}

// Document is an SVG tree stored as an arena of nodes.
type Document struct {
	nodes  []Node
	root   NodeID
	prolog string // original prolog, without the <? ?> delimiters
}

// Parse reads a complete XML document from r.
func Parse(r io.Reader) (*Document, error) {
	d := &Document{root: None}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = true

	var stack []NodeID
	sawContent := false

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse svg: %w", err)
		}

		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target == "xml" && !sawContent && d.root == None {
				d.prolog = "xml " + strings.TrimSpace(string(t.Inst))
			}
			sawContent = true
		case xml.StartElement:
			sawContent = true
			if len(stack) == 0 && d.root != None {
				return nil, fmt.Errorf("parse svg: multiple root elements")
			}
			parent := None
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			id := d.add(Node{Kind: KindElement, Name: qualified(t.Name), Parent: parent})
			for _, a := range t.Attr {
				d.nodes[id].Attrs = append(d.nodes[id].Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if parent == None {
				d.root = id
			} else {
				d.nodes[parent].Children = append(d.nodes[parent].Children, id)
			}
			stack = append(stack, id)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse svg: unexpected end element </%s>", qualified(t.Name))
			}
			top := stack[len(stack)-1]
			if d.nodes[top].Name != qualified(t.Name) {
				return nil, fmt.Errorf("parse svg: element <%s> closed by </%s>", d.nodes[top].Name, qualified(t.Name))
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if !bytes.ContainsFunc(t, isNotSpace) {
				if len(stack) > 0 {
					sawContent = true
				}
				continue
			}
			sawContent = true
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse svg: character data outside root element")
			}
			parent := stack[len(stack)-1]
			id := d.add(Node{Kind: KindText, Text: string(t), Parent: parent})
			d.nodes[parent].Children = append(d.nodes[parent].Children, id)
		case xml.Comment, xml.Directive:
			sawContent = true
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("parse svg: unclosed element <%s>", d.nodes[stack[len(stack)-1]].Name)
	}
	if d.root == None {
		return nil, ErrEmptyDocument
	}
	return d, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses a sequence of elements as the children of a <defs>
// envelope. The returned document's root is that envelope.
func ParseFragment(fragment string) (*Document, error) {
	var b strings.Builder
	b.WriteString(`<defs xmlns="`)
	b.WriteString(NamespaceSVG)
	b.WriteString(`" xmlns:xlink="`)
	b.WriteString(NamespaceXLink)
	b.WriteString(`">`)
	b.WriteString(fragment)
	b.WriteString(`</defs>`)
	return ParseString(b.String())
}

// New creates an empty document whose root element has the given name.
func New(rootName string) *Document {
	d := &Document{root: None}
	d.root = d.add(Node{Kind: KindElement, Name: rootName, Parent: None})
	return d
}

func (d *Document) add(n Node) NodeID {
	d.nodes = append(d.nodes, n)
	return NodeID(len(d.nodes) - 1)
}

// Root returns the root element.
func (d *Document) Root() NodeID { return d.root }

// HasProlog reports whether the source began with an XML prolog.
func (d *Document) HasProlog() bool { return d.prolog != "" }

// Node returns a pointer into the arena. The pointer is invalidated by any
// call that adds nodes.
func (d *Document) Node(id NodeID) *Node { return &d.nodes[id] }

// Name returns the element name of id (empty for text nodes).
func (d *Document) Name(id NodeID) string { return d.nodes[id].Name }

// Kind returns the node kind of id.
func (d *Document) Kind(id NodeID) Kind { return d.nodes[id].Kind }

// Parent returns the parent of id, or None for the root and detached nodes.
func (d *Document) Parent(id NodeID) NodeID { return d.nodes[id].Parent }

// Children returns a copy of the child list of id.
func (d *Document) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), d.nodes[id].Children...)
}

// Attr returns the value of the named attribute.
func (d *Document) Attr(id NodeID, name string) (string, bool) {
	for _, a := range d.nodes[id].Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attrs returns a copy of the attributes of id.
func (d *Document) Attrs(id NodeID) []Attr {
	return append([]Attr(nil), d.nodes[id].Attrs...)
}

// SetAttr sets or replaces an attribute, keeping its original position.
func (d *Document) SetAttr(id NodeID, name, value string) {
	n := &d.nodes[id]
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// RemoveAttr deletes an attribute if present.
func (d *Document) RemoveAttr(id NodeID, name string) {
	n := &d.nodes[id]
	out := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name != name {
			out = append(out, a)
		}
	}
	n.Attrs = out
}

// SetAttrs replaces the full attribute list of id.
func (d *Document) SetAttrs(id NodeID, attrs []Attr) {
	d.nodes[id].Attrs = attrs
}

// Text returns the character data of a text node.
func (d *Document) Text(id NodeID) string { return d.nodes[id].Text }

// NewElement allocates a detached element.
func (d *Document) NewElement(name string, attrs ...Attr) NodeID {
	return d.add(Node{Kind: KindElement, Name: name, Parent: None, Attrs: attrs})
}

// NewText allocates a detached text node.
func (d *Document) NewText(text string) NodeID {
	return d.add(Node{Kind: KindText, Text: text, Parent: None})
}

// AppendChild attaches child as the last child of parent.
func (d *Document) AppendChild(parent, child NodeID) {
	d.detach(child)
	d.nodes[child].Parent = parent
	d.nodes[parent].Children = append(d.nodes[parent].Children, child)
}

// InsertChild attaches child at index among parent's children.
// Indexes past the end append.
func (d *Document) InsertChild(parent NodeID, index int, child NodeID) {
	d.detach(child)
	kids := d.nodes[parent].Children
	if index < 0 {
		index = 0
	}
	if index >= len(kids) {
		d.nodes[parent].Children = append(kids, child)
	} else {
		kids = append(kids, 0)
		copy(kids[index+1:], kids[index:])
		kids[index] = child
		d.nodes[parent].Children = kids
	}
	d.nodes[child].Parent = parent
}

// Remove detaches id from its parent. The node stays in the arena but is
// no longer reachable from the root.
func (d *Document) Remove(id NodeID) {
	d.detach(id)
}

// IndexOf returns the position of child among parent's children, or -1.
func (d *Document) IndexOf(parent, child NodeID) int {
	for i, c := range d.nodes[parent].Children {
		if c == child {
			return i
		}
	}
	return -1
}

func (d *Document) detach(id NodeID) {
	p := d.nodes[id].Parent
	if p == None {
		return
	}
	kids := d.nodes[p].Children
	out := kids[:0]
	for _, c := range kids {
		if c != id {
			out = append(out, c)
		}
	}
	d.nodes[p].Children = out
	d.nodes[id].Parent = None
}

// Import deep-copies the subtree rooted at srcID from src into d and
// returns the detached copy.
func (d *Document) Import(src *Document, srcID NodeID) NodeID {
	n := src.nodes[srcID]
	id := d.add(Node{
		Kind:   n.Kind,
		Name:   n.Name,
		Text:   n.Text,
		Attrs:  append([]Attr(nil), n.Attrs...),
		Parent: None,
	})
	for _, c := range n.Children {
		d.AppendChild(id, d.Import(src, c))
	}
	return id
}

// Clone returns a compacted deep copy containing only reachable nodes.
func (d *Document) Clone() *Document {
	out := &Document{root: None, prolog: d.prolog}
	out.root = out.Import(d, d.root)
	return out
}

// Walk visits every reachable node in document order. Returning false from
// fn skips the node's subtree.
func (d *Document) Walk(fn func(id NodeID) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if !fn(id) {
			return
		}
		for _, c := range d.Children(id) {
			visit(c)
		}
	}
	visit(d.root)
}

// Find returns the first reachable element matching pred, or None.
func (d *Document) Find(pred func(id NodeID) bool) NodeID {
	found := None
	d.Walk(func(id NodeID) bool {
		if found != None {
			return false
		}
		if d.nodes[id].Kind == KindElement && pred(id) {
			found = id
			return false
		}
		return true
	})
	return found
}

// ViewBox parses the root viewBox attribute into min-x, min-y, width, height.
func (d *Document) ViewBox() (vb [4]float64, ok bool) {
	raw, has := d.Attr(d.root, "viewBox")
	if !has {
		return vb, false
	}
	nums := ParseNumbers(raw)
	if len(nums) != 4 {
		return vb, false
	}
	copy(vb[:], nums)
	return vb, true
}

// ParseNumbers splits a whitespace- or comma-separated list of numbers.
// Tokens that fail to parse are dropped.
func ParseNumbers(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func isNotSpace(r rune) bool {
	return r != ' ' && r != '\t' && r != '\n' && r != '\r'
}
