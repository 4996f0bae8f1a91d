package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is the read-only view of an HTML element the extractors work against.
type Node interface {
	// Find returns the descendants matching a CSS selector, in document order.
	Find(selector string) []Node
	Text() string
	Attr(name string) (string, bool)
	HasClass(class string) bool
	Children() []Node
	// Siblings returns the siblings matching selector; an empty selector matches all.
	Siblings(selector string) []Node
}

// NewDocument parses an HTML document.
func NewDocument(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromSelection(doc.Selection), nil
}

// NewDocumentFromString parses an HTML document held in memory.
func NewDocumentFromString(html string) (Node, error) {
	return NewDocument(strings.NewReader(html))
}

// FromSelection wraps a goquery selection, e.g. the DOM of a colly element.
func FromSelection(sel *goquery.Selection) Node {
	return selectionNode{sel: sel}
}

type selectionNode struct {
	sel *goquery.Selection
}

func (n selectionNode) Find(selector string) []Node {
	return wrap(n.sel.Find(selector))
}

func (n selectionNode) Text() string {
	return n.sel.Text()
}

func (n selectionNode) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n selectionNode) HasClass(class string) bool {
	return n.sel.HasClass(class)
}

func (n selectionNode) Children() []Node {
	return wrap(n.sel.Children())
}

func (n selectionNode) Siblings(selector string) []Node {
	if selector == "" {
		return wrap(n.sel.Siblings())
	}
	return wrap(n.sel.SiblingsFiltered(selector))
}

func wrap(sel *goquery.Selection) []Node {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, selectionNode{sel: s})
	})
	return nodes
}

func first(nodes []Node) Node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func textOf(n Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text())
}

func attrOf(n Node, name string) string {
	if n == nil {
		return ""
	}
	value, _ := n.Attr(name)
	return strings.TrimSpace(value)
}
