// Package bilingual merges translated and original text into dual-language
// nodes. It operates on the already-reconstructed tree and addresses slots
// through the positional markers left by reconstruction, so no selection
// logic is re-evaluated on mutated text.
package bilingual

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
	"github.com/kvgharbigit/booktranslator/langmeta"
)

// ClassSecondary is the CSS class carried by injected original-language
// nodes. The class is styled by an external stylesheet shipped with the
// packaged output; styling is never inlined.
const ClassSecondary = "bt-original"

// Compose injects, per successfully translated fragment, a secondary child
// node carrying the original-language text, tagged with source-language
// metadata for accessibility. Fragments that fell back to their original
// text render exactly once and are left untouched.
func Compose(trees []*document.Tree, frags []*fragment.Fragment, sourceLang string) error {
	marked := fragment.FindMarked(trees)
	lang := langmeta.HTMLLang(sourceLang)
	dir := langmeta.Direction(sourceLang)

	for _, frag := range frags {
		if frag.Fallback || frag.TranslatedText == "" {
			continue
		}
		node, ok := marked[frag.ID]
		if !ok {
			return fmt.Errorf("bilingual: no slot marked for fragment %d at %s", frag.ID, frag.Coordinate)
		}

		secondary := document.NewElement("span")
		document.SetAttr(secondary, "class", ClassSecondary)
		document.SetAttr(secondary, "lang", lang)
		document.SetAttr(secondary, "dir", dir)
		if err := fragment.SetInnerHTML(secondary, frag.OriginalText); err != nil {
			return fmt.Errorf("bilingual: fragment %d: %w", frag.ID, err)
		}
		node.AppendChild(secondary)
	}
	return nil
}

// MarkDocumentLanguage sets the lang and dir attributes on each tree's root
// html element to the target language, for readers and screen readers.
func MarkDocumentLanguage(trees []*document.Tree, targetLang string) {
	lang := langmeta.HTMLLang(targetLang)
	dir := langmeta.Direction(targetLang)

	for _, tree := range trees {
		doc := goquery.NewDocumentFromNode(tree.Root)
		sel := doc.Find("html")
		if sel.Length() == 0 {
			continue
		}
		sel.SetAttr("lang", lang)
		sel.SetAttr("dir", dir)
	}
}
