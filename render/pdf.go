package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"

	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
)

// PageEngine is one tier of the paginated target.
type PageEngine interface {
	Name() string
	Render(ctx context.Context, in *Input) ([]byte, error)
}

// Paginated converts the trees to a fixed-layout print document. Tiers are
// tried in order: the high-fidelity CSS-aware engine first, then the
// asset-simplified pure-Go fallback. Only both tiers failing fails the
// target.
type Paginated struct {
	Tiers []PageEngine
	// OnLog records tier failures that were recovered by fallback.
	OnLog func(format string, args ...any)
}

// NewPaginated builds the default tier stack.
func NewPaginated(converterBinary string) *Paginated {
	return &Paginated{
		Tiers: []PageEngine{
			&convertEngine{binary: converterBinary},
			&layoutEngine{},
		},
	}
}

func (p *Paginated) Name() string { return "paginated" }

func (p *Paginated) Render(ctx context.Context, in *Input) (*Artifact, error) {
	var errs []error
	for _, tier := range p.Tiers {
		data, err := tier.Render(ctx, in)
		if err == nil {
			return &Artifact{
				Name: in.BaseName + ".pdf",
				MIME: "application/pdf",
				Data: data,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if p.OnLog != nil {
			p.OnLog("paginated tier %s failed: %v", tier.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
	}
	return nil, fmt.Errorf("all paginated tiers failed: %w", errors.Join(errs...))
}

// ---------------------------------------------------------------------------
// Tier 1: external CSS-aware converter
// ---------------------------------------------------------------------------

// convertEngine shells out to an HTML-to-PDF converter (weasyprint by
// default). Chapters and stylesheet assets are staged in a temp directory
// so relative references resolve.
type convertEngine struct {
	binary string
}

func (e *convertEngine) Name() string { return "css-converter" }

func (e *convertEngine) Render(ctx context.Context, in *Input) ([]byte, error) {
	binary := e.binary
	if binary == "" {
		binary = "weasyprint"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("converter %s not available: %w", binary, err)
	}

	dir, err := os.MkdirTemp("", "booktranslator-pdf-")
	if err != nil {
		return nil, fmt.Errorf("staging render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "book.html")
	outPath := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(inPath, combinedHTML(in), 0o644); err != nil {
		return nil, fmt.Errorf("staging input: %w", err)
	}
	for _, asset := range in.Book.Assets {
		if asset.MediaType != "text/css" {
			continue
		}
		name := filepath.Join(dir, filepath.Base(asset.Path))
		if err := os.WriteFile(name, asset.Data, 0o644); err != nil {
			return nil, fmt.Errorf("staging asset %s: %w", asset.Path, err)
		}
	}
	if in.Bilingual {
		if err := os.WriteFile(filepath.Join(dir, StylesheetName), []byte(BilingualCSS), 0o644); err != nil {
			return nil, fmt.Errorf("staging stylesheet: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, binary, inPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", binary, err, bytes.TrimSpace(out))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading converter output: %w", err)
	}
	return data, nil
}

// combinedHTML merges the chapter bodies into one document for the
// converter, linking every stylesheet by base name.
func combinedHTML(in *Input) []byte {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"/>")
	fmt.Fprintf(&buf, "<title>%s</title>", in.Book.Metadata.Title)
	for _, asset := range in.Book.Assets {
		if asset.MediaType == "text/css" {
			fmt.Fprintf(&buf, "<link rel=\"stylesheet\" href=\"%s\"/>", filepath.Base(asset.Path))
		}
	}
	if in.Bilingual {
		fmt.Fprintf(&buf, "<link rel=\"stylesheet\" href=\"%s\"/>", StylesheetName)
	}
	buf.WriteString("</head><body>\n")
	for _, tree := range in.Trees {
		buf.Write(bodyHTML(tree))
		buf.WriteString("\n")
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes()
}

// bodyHTML returns the inner markup of a chapter's body element.
func bodyHTML(tree *document.Tree) []byte {
	var body *html.Node
	document.Walk(tree.Root, func(n *html.Node) bool {
		if document.IsElement(n, "body") {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return nil
	}
	return []byte(fragment.InnerHTML(body))
}

// ---------------------------------------------------------------------------
// Tier 2: pure-Go asset-simplified layout
// ---------------------------------------------------------------------------

// layoutEngine produces a lower-fidelity paginated document from the
// linearized text flow: no images, core fonts only.
type layoutEngine struct{}

func (e *layoutEngine) Name() string { return "layout-fallback" }

func (e *layoutEngine) Render(ctx context.Context, in *Input) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(in.Book.Metadata.Title, true)
	pdf.SetAuthor(in.Book.Metadata.Author, true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(in.Book.Metadata.Title), "", "C", false)
	if in.Book.Metadata.Author != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, 7, tr(in.Book.Metadata.Author), "", "C", false)
	}
	pdf.Ln(8)

	for _, block := range flowBlocks(in.Frags, in.Bilingual) {
		if block.Text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch block.Kind {
		case fragment.KindHeading:
			pdf.SetFont("Helvetica", "B", 14)
		case fragment.KindCaption:
			pdf.SetFont("Helvetica", "I", 10)
		default:
			pdf.SetFont("Helvetica", "", 11)
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.MultiCell(0, 5.5, tr(block.Text), "", "", false)

		if block.Original != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.SetTextColor(85, 85, 85)
			pdf.MultiCell(0, 4.5, tr(block.Original), "", "", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}
