// Package fragment implements extraction of translatable text fragments from
// document trees and their positional reinsertion after translation.
//
// Extraction and reconstruction share one Selector value, and reconstruction
// additionally verifies the traversal coordinates recorded at extraction
// time. Selection is decided in exactly one place (Selector.Match); neither
// pass re-derives its own notion of "translatable".
package fragment

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/kvgharbigit/booktranslator/document"
)

// Kind classifies the structural role of a fragment's owner node.
type Kind string

const (
	KindBlock    Kind = "block"
	KindHeading  Kind = "heading"
	KindCaption  Kind = "caption"
	KindListItem Kind = "listItem"
	KindCell     Kind = "cell"
)

// Coordinate addresses a fragment's origin node: the chapter's position in
// the job's tree list plus the node's match ordinal within that chapter.
// Coordinates are assigned by a single traversal order and are stable for
// the life of the job.
type Coordinate struct {
	Chapter int
	Index   int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d", c.Chapter, c.Index)
}

// Fragment is one extracted unit of translatable text.
type Fragment struct {
	// ID is the stable job-wide ordinal.
	ID int
	// Coordinate is the origin address in the traversal order.
	Coordinate Coordinate
	// Kind is the structural role of the owner node.
	Kind Kind
	// OriginalText is the owner node's inner markup. Inline formatting is
	// kept here as rich content, not flattened.
	OriginalText string
	// ProtectedText is OriginalText with non-translatable spans replaced by
	// sentinels; set by the protector.
	ProtectedText string
	// TranslatedText is the restored translation; empty means untranslated.
	TranslatedText string
	// Fallback is set during reconstruction when the original text was
	// substituted because no usable translation existed.
	Fallback bool
}

// Selector decides which nodes own translatable fragments. The same value
// must be given to Extract and Reconstruct.
type Selector struct {
	// MinTextLen is the minimum rune count of the trimmed text for a block
	// to be extracted. Zero disables length filtering.
	MinTextLen int
	// SkipTags lists elements whose subtrees are never translated.
	SkipTags map[string]bool
}

// blockOwners are the element tags that own block-level text. The outermost
// matching element wins; its inline content travels with the fragment.
var blockOwners = map[string]Kind{
	"p":          KindBlock,
	"blockquote": KindBlock,
	"h1":         KindHeading,
	"h2":         KindHeading,
	"h3":         KindHeading,
	"h4":         KindHeading,
	"h5":         KindHeading,
	"h6":         KindHeading,
	"figcaption": KindCaption,
	"caption":    KindCaption,
	"li":         KindListItem,
	"dt":         KindListItem,
	"dd":         KindListItem,
	"td":         KindCell,
	"th":         KindCell,
}

// DefaultSelector returns the selector used when the job config does not
// override it.
func DefaultSelector() Selector {
	return Selector{
		MinTextLen: 0,
		SkipTags: map[string]bool{
			"script":   true,
			"style":    true,
			"code":     true,
			"pre":      true,
			"textarea": true,
			"noscript": true,
			"head":     true,
			"svg":      true,
			"math":     true,
		},
	}
}

// skips reports whether the subtree rooted at n is excluded from
// translation entirely.
func (s Selector) skips(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.SkipTags[n.Data] {
		return true
	}
	return document.Attr(n, "translate") == "no"
}

// Match reports whether n owns a translatable fragment. This is the single
// selection decision shared by extraction and reconstruction.
func (s Selector) Match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := blockOwners[n.Data]; !ok {
		return false
	}
	text := strings.TrimSpace(document.Text(n))
	if text == "" {
		return false
	}
	if s.MinTextLen > 0 && utf8.RuneCountInString(text) < s.MinTextLen {
		return false
	}
	return true
}

// markerAttr carries the fragment ID on substituted nodes so that later
// passes (bilingual composition) address slots positionally instead of
// re-running selection on already-mutated text. StripMarkers removes it
// before rendering.
const markerAttr = "data-bt-frag"

// AlignmentError reports an extraction/reconstruction slot count mismatch.
// It is always fatal for the job.
type AlignmentError struct {
	Extracted int
	Matched   int
	Detail    string
}

func (e *AlignmentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("fragment alignment: %s (extracted %d, matched %d)", e.Detail, e.Extracted, e.Matched)
	}
	return fmt.Sprintf("fragment alignment: extracted %d fragments but matched %d tree slots", e.Extracted, e.Matched)
}

// Extract walks the trees depth-first in document order and returns one
// Fragment per matching block-level text owner. It cannot fail on
// well-formed trees.
func Extract(trees []*document.Tree, sel Selector) []*Fragment {
	var frags []*Fragment
	for chapter, tree := range trees {
		index := 0
		document.Walk(tree.Root, func(n *html.Node) bool {
			if sel.skips(n) {
				return false
			}
			if !sel.Match(n) {
				return true
			}
			frags = append(frags, &Fragment{
				ID:           len(frags),
				Coordinate:   Coordinate{Chapter: chapter, Index: index},
				Kind:         kindOf(n),
				OriginalText: InnerHTML(n),
			})
			index++
			return false
		})
	}
	return frags
}

// Reconstruct walks the trees with the identical selector, consuming exactly
// one fragment per matching node. TranslatedText is substituted when
// present; otherwise the original text is reinserted and the fragment is
// marked as a fallback. A slot/fragment count or coordinate mismatch aborts
// with *AlignmentError.
func Reconstruct(trees []*document.Tree, frags []*Fragment, sel Selector) error {
	next := 0
	for chapter, tree := range trees {
		index := 0
		var walkErr error
		document.Walk(tree.Root, func(n *html.Node) bool {
			if walkErr != nil {
				return false
			}
			if sel.skips(n) {
				return false
			}
			if !sel.Match(n) {
				return true
			}
			coord := Coordinate{Chapter: chapter, Index: index}
			index++
			if next >= len(frags) {
				walkErr = &AlignmentError{
					Extracted: len(frags),
					Matched:   next + 1,
					Detail:    fmt.Sprintf("no fragment left for slot %s", coord),
				}
				return false
			}
			frag := frags[next]
			next++
			if frag.Coordinate != coord {
				walkErr = &AlignmentError{
					Extracted: len(frags),
					Matched:   next,
					Detail:    fmt.Sprintf("fragment %d recorded at %s but consumed at %s", frag.ID, frag.Coordinate, coord),
				}
				return false
			}
			text := frag.TranslatedText
			if text == "" {
				text = frag.OriginalText
				frag.Fallback = true
			}
			if err := SetInnerHTML(n, text); err != nil {
				walkErr = fmt.Errorf("substituting fragment %d at %s: %w", frag.ID, coord, err)
				return false
			}
			document.SetAttr(n, markerAttr, strconv.Itoa(frag.ID))
			return false
		})
		if walkErr != nil {
			return walkErr
		}
	}
	if next != len(frags) {
		return &AlignmentError{Extracted: len(frags), Matched: next}
	}
	return nil
}

// FindMarked returns the nodes substituted by Reconstruct keyed by fragment
// ID, in document order per tree.
func FindMarked(trees []*document.Tree) map[int]*html.Node {
	marked := make(map[int]*html.Node)
	for _, tree := range trees {
		document.Walk(tree.Root, func(n *html.Node) bool {
			if n.Type == html.ElementNode {
				if v := document.Attr(n, markerAttr); v != "" {
					if id, err := strconv.Atoi(v); err == nil {
						marked[id] = n
					}
				}
			}
			return true
		})
	}
	return marked
}

// StripMarkers removes the positional markers left by Reconstruct. Must run
// before the trees are rendered.
func StripMarkers(trees []*document.Tree) {
	for _, tree := range trees {
		document.Walk(tree.Root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			for i, a := range n.Attr {
				if a.Key == markerAttr {
					n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
					break
				}
			}
			return true
		})
	}
}

func kindOf(n *html.Node) Kind {
	if k, ok := blockOwners[n.Data]; ok {
		return k
	}
	return KindBlock
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		// Render cannot fail on a bytes.Buffer with well-formed nodes.
		_ = html.Render(&buf, child)
	}
	return buf.String()
}

// SetInnerHTML replaces the children of n with the parsed markup. The
// markup is parsed in the context of n's own tag.
func SetInnerHTML(n *html.Node, markup string) error {
	context := &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return fmt.Errorf("parsing replacement markup: %w", err)
	}
	document.RemoveChildren(n)
	for _, child := range nodes {
		n.AppendChild(child)
	}
	return nil
}
