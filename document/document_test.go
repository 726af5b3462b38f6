package document

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const sample = `<html><head><title>t</title></head><body>
<p id="a">Call me <em>Ishmael</em>.</p>
<div><p id="b">Second.</p></div>
</body></html>`

func parse(t *testing.T) *Tree {
	t.Helper()
	tree, err := ParseBytes("OEBPS/ch1.xhtml", []byte(sample))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	return tree
}

func findByID(t *testing.T, tree *Tree, id string) *html.Node {
	t.Helper()
	var found *html.Node
	Walk(tree.Root, func(n *html.Node) bool {
		if Attr(n, "id") == id {
			found = n
		}
		return true
	})
	if found == nil {
		t.Fatalf("no node with id %q", id)
	}
	return found
}

func TestParseAndBytes(t *testing.T) {
	tree := parse(t)
	if tree.Path != "OEBPS/ch1.xhtml" {
		t.Errorf("path = %q", tree.Path)
	}
	out, err := tree.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	for _, want := range []string{`<p id="a">`, "<em>Ishmael</em>", "Second."} {
		if !strings.Contains(string(out), want) {
			t.Errorf("serialized tree missing %q:\n%s", want, out)
		}
	}
}

func TestWalkOrderAndSkip(t *testing.T) {
	tree := parse(t)

	var tags []string
	Walk(tree.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			tags = append(tags, n.Data)
		}
		return true
	})
	want := []string{"html", "head", "title", "body", "p", "em", "div", "p"}
	if strings.Join(tags, " ") != strings.Join(want, " ") {
		t.Errorf("walk order = %v, want %v", tags, want)
	}

	// Returning false prunes the subtree.
	tags = tags[:0]
	Walk(tree.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			tags = append(tags, n.Data)
			if n.Data == "body" {
				return false
			}
		}
		return true
	})
	if tags[len(tags)-1] != "body" {
		t.Errorf("skip leaked into children: %v", tags)
	}
}

func TestText(t *testing.T) {
	tree := parse(t)
	if got := Text(findByID(t, tree, "a")); got != "Call me Ishmael." {
		t.Errorf("Text = %q", got)
	}
}

func TestAttrSetAttr(t *testing.T) {
	tree := parse(t)
	p := findByID(t, tree, "a")

	if Attr(p, "class") != "" {
		t.Error("missing attribute must read as empty")
	}
	SetAttr(p, "class", "x")
	if Attr(p, "class") != "x" {
		t.Errorf("class = %q", Attr(p, "class"))
	}
	SetAttr(p, "class", "y")
	if Attr(p, "class") != "y" {
		t.Errorf("replace failed: %q", Attr(p, "class"))
	}
	// Replacing must not duplicate the attribute.
	count := 0
	for _, a := range p.Attr {
		if a.Key == "class" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d class attributes", count)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tree := parse(t)
	clone := tree.Clone()

	p := findByID(t, clone, "a")
	RemoveChildren(p)
	p.AppendChild(NewText("replaced"))
	SetAttr(p, "id", "mutated")

	if got := Text(findByID(t, tree, "a")); got != "Call me Ishmael." {
		t.Errorf("mutation leaked into the original: %q", got)
	}
	if got := Text(findByID(t, clone, "mutated")); got != "replaced" {
		t.Errorf("clone text = %q", got)
	}
}

func TestIsElement(t *testing.T) {
	tree := parse(t)
	p := findByID(t, tree, "a")
	if !IsElement(p, "p") || IsElement(p, "div") {
		t.Error("IsElement misidentified the node")
	}
	if IsElement(p.FirstChild, "p") {
		t.Error("text node reported as element")
	}
}

func TestNewElementAndText(t *testing.T) {
	span := NewElement("span")
	span.AppendChild(NewText("hi"))
	if !IsElement(span, "span") || Text(span) != "hi" {
		t.Errorf("built node wrong: %+v", span)
	}
}
