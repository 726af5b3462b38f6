package render

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
)

// flowBlock is one block of the linearized text flow shared by the
// linearized and fallback paginated targets.
type flowBlock struct {
	Kind fragment.Kind
	// Text is the block's primary text: the translation, or the original
	// for fallback fragments.
	Text string
	// Original carries the secondary line in bilingual mode; empty for
	// fallback fragments, which appear exactly once.
	Original string
}

// flowBlocks flattens the job's fragments into plain-text blocks in
// document order.
func flowBlocks(frags []*fragment.Fragment, bilingual bool) []flowBlock {
	blocks := make([]flowBlock, 0, len(frags))
	for _, frag := range frags {
		text := frag.TranslatedText
		if frag.Fallback || text == "" {
			text = frag.OriginalText
		}
		block := flowBlock{Kind: frag.Kind, Text: stripMarkup(text)}
		if bilingual && !frag.Fallback && frag.TranslatedText != "" {
			block.Original = stripMarkup(frag.OriginalText)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// stripMarkup reduces fragment markup to its plain text content.
func stripMarkup(markup string) string {
	context := &html.Node{Type: html.ElementNode, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return strings.TrimSpace(markup)
	}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(document.Text(n))
	}
	return strings.TrimSpace(sb.String())
}

// Linearized flattens the trees into plain text preserving block
// boundaries. Bilingual mode emits the original as an indented
// parenthesized line under each translated block.
type Linearized struct{}

func (Linearized) Name() string { return "linearized" }

func (Linearized) Render(ctx context.Context, in *Input) (*Artifact, error) {
	var sb strings.Builder
	for _, block := range flowBlocks(in.Frags, in.Bilingual) {
		if block.Text == "" {
			continue
		}
		sb.WriteString(block.Text)
		sb.WriteString("\n")
		if block.Original != "" {
			sb.WriteString("    (")
			sb.WriteString(block.Original)
			sb.WriteString(")\n")
		}
		sb.WriteString("\n")
	}
	return &Artifact{
		Name: in.BaseName + ".txt",
		MIME: "text/plain; charset=utf-8",
		Data: []byte(sb.String()),
	}, nil
}
