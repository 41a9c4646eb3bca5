// Package svgdoc provides a minimal, editable SVG document tree.
//
// Documents are stored as an arena: every element and text run lives in a
// single slice and is addressed by a NodeID. Edits mutate the arena in place
// (attributes, child lists) and never touch global parser state, so a
// Document can be cloned cheaply and handed to independent goroutines.
//
// # Parsing
//
// Parse reads a complete document; ParseFragment reads a sequence of
// elements (for example a user-supplied block of gradient definitions) by
// wrapping it in a <defs> envelope that declares the standard namespaces.
// Namespace prefixes are preserved verbatim (xlink:href stays xlink:href).
// Comments, DOCTYPE directives and processing instructions other than the
// leading XML prolog are discarded.
//
// # Serialization
//
// String always emits exactly one XML prolog: the source prolog when the
// input began with one, otherwise a default UTF-8 prolog.
//
// # Usage
//
//	doc, err := svgdoc.ParseString(src)
//	if err != nil {
//	    return err
//	}
//	for _, id := range doc.Children(doc.Root()) {
//	    if doc.Name(id) == "path" {
//	        doc.SetAttr(id, "fill", "#112233")
//	    }
//	}
//	out := doc.String()
package svgdoc
