package render

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/kvgharbigit/booktranslator/document"
)

// StylesheetName is the external stylesheet added to bilingual packaged
// output. Secondary-text styling must stay in this external resource;
// downstream readers do not apply inline styles reliably.
const StylesheetName = "booktranslator-bilingual.css"

// BilingualCSS styles the injected original-language nodes.
const BilingualCSS = `.bt-original {
  display: block;
  font-size: 0.85em;
  color: #555555;
  margin-top: 0.25em;
}
`

// Packaged repackages the trees with the book's non-text assets into the
// original container format.
type Packaged struct{}

func (Packaged) Name() string { return "packaged" }

func (Packaged) Render(ctx context.Context, in *Input) (*Artifact, error) {
	book := in.Book
	if len(in.Trees) != len(book.Chapters) {
		return nil, fmt.Errorf("packaged: %d trees for %d chapters", len(in.Trees), len(book.Chapters))
	}

	var assetPath string
	if in.Bilingual {
		if err := book.AddStylesheet(StylesheetName, BilingualCSS); err != nil {
			return nil, fmt.Errorf("packaged: %w", err)
		}
		assetPath = path.Join(path.Dir(book.OPFPath), StylesheetName)
	}

	for i := range book.Chapters {
		tree := in.Trees[i]
		if in.Bilingual {
			tree = tree.Clone()
			linkStylesheet(tree, relHref(book.Chapters[i].Path, assetPath))
		}
		data, err := tree.Bytes()
		if err != nil {
			return nil, fmt.Errorf("packaged: %w", err)
		}
		book.Chapters[i].Data = data
	}
	book.SetLanguage(in.TargetLang)

	data, err := book.WriteBytes()
	if err != nil {
		return nil, fmt.Errorf("packaged: %w", err)
	}
	return &Artifact{
		Name: in.BaseName + ".epub",
		MIME: "application/epub+zip",
		Data: data,
	}, nil
}

// relHref computes the href that reaches target from the directory of the
// referencing file. Chapter documents resolve relative hrefs against their
// own location, which may be a subdirectory of the OPF dir.
func relHref(from, target string) string {
	var fromParts []string
	if dir := path.Dir(from); dir != "." {
		fromParts = strings.Split(dir, "/")
	}
	targetParts := strings.Split(target, "/")

	common := 0
	for common < len(fromParts) && common < len(targetParts)-1 &&
		fromParts[common] == targetParts[common] {
		common++
	}
	parts := make([]string, 0, len(fromParts)-common+len(targetParts)-common)
	for range fromParts[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)
	return strings.Join(parts, "/")
}

// linkStylesheet adds a <link rel="stylesheet"> to the chapter head.
func linkStylesheet(tree *document.Tree, href string) {
	var head *html.Node
	document.Walk(tree.Root, func(n *html.Node) bool {
		if head != nil {
			return false
		}
		if document.IsElement(n, "head") {
			head = n
			return false
		}
		return true
	})
	if head == nil {
		return
	}
	link := document.NewElement("link")
	document.SetAttr(link, "rel", "stylesheet")
	document.SetAttr(link, "type", "text/css")
	document.SetAttr(link, "href", href)
	head.AppendChild(link)
}
