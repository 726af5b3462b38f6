// Package document wraps golang.org/x/net/html to provide the mutable
// document tree the translation pipeline operates on. One Tree corresponds
// to one chapter file of the packaged book; a job owns its trees exclusively
// for its whole run.
package document

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Tree is a parsed chapter document.
type Tree struct {
	// Path is the chapter's path inside the book container (e.g.
	// "OEBPS/chapter01.xhtml").
	Path string
	// Root is the document root node.
	Root *html.Node
}

// Parse reads an (X)HTML chapter into a Tree.
func Parse(path string, r io.Reader) (*Tree, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Tree{Path: path, Root: root}, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(path string, data []byte) (*Tree, error) {
	return Parse(path, bytes.NewReader(data))
}

// Render serializes the tree back to HTML.
func (t *Tree) Render(w io.Writer) error {
	if err := html.Render(w, t.Root); err != nil {
		return fmt.Errorf("rendering %s: %w", t.Path, err)
	}
	return nil
}

// Bytes returns the serialized tree.
func (t *Tree) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the tree. The bilingual variant is composed
// on a copy so the monolingual reconstruction stays untouched.
func (t *Tree) Clone() *Tree {
	return &Tree{Path: t.Path, Root: cloneNode(t.Root)}
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if n.Attr != nil {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

// Walk visits every node of the tree depth-first in document order.
// Returning false from fn skips the node's children.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		Walk(child, fn)
	}
}

// Text returns the concatenated text content of a node and its descendants.
func Text(n *html.Node) string {
	var sb strings.Builder
	Walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		return true
	})
	return sb.String()
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// SetAttr sets or replaces the named attribute.
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// IsElement reports whether n is an element node with the given tag name.
func IsElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// RemoveChildren detaches all children of n.
func RemoveChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// NewText creates a detached text node.
func NewText(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// NewElement creates a detached element node.
func NewElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag}
}
