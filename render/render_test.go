package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kvgharbigit/booktranslator/container"
	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
)

// stubTarget renders canned bytes or fails.
type stubTarget struct {
	name string
	err  error
}

func (s stubTarget) Name() string { return s.name }

func (s stubTarget) Render(ctx context.Context, in *Input) (*Artifact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Artifact{Name: in.BaseName + "." + s.name, MIME: "application/x-" + s.name, Data: []byte(s.name)}, nil
}

func TestRunOmitsFailedOptionalTarget(t *testing.T) {
	targets := []Target{
		stubTarget{name: "packaged"},
		stubTarget{name: "paginated", err: errors.New("converter crashed")},
		stubTarget{name: "linearized"},
	}
	var transitions []Status
	artifacts, manifest, statuses, err := Run(context.Background(), targets, &Input{BaseName: "book.es"}, Options{
		Required: map[string]bool{"packaged": true},
		OnStatus: func(s Status) { transitions = append(transitions, s) },
	})
	if err != nil {
		t.Fatalf("optional failure must not fail the run: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(artifacts))
	}
	if _, ok := manifest["book.es.paginated"]; ok {
		t.Error("failed target leaked into the manifest")
	}
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses, want 3", len(statuses))
	}
	if statuses[1].State != StateFailed || statuses[1].Err == nil {
		t.Errorf("paginated status = %+v, want failed with error", statuses[1])
	}
	// pending → rendering → terminal, for each target.
	if len(transitions) != 9 {
		t.Errorf("got %d state transitions, want 9", len(transitions))
	}
}

func TestRunRequiredFailure(t *testing.T) {
	targets := []Target{
		stubTarget{name: "packaged", err: errors.New("zip write failed")},
		stubTarget{name: "linearized"},
	}
	artifacts, _, _, err := Run(context.Background(), targets, &Input{BaseName: "b"}, Options{
		Required: map[string]bool{"packaged": true},
	})
	var reqErr *RequiredFailedError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequiredFailedError", err)
	}
	if len(reqErr.Targets) != 1 || reqErr.Targets[0] != "packaged" {
		t.Errorf("failed targets = %v", reqErr.Targets)
	}
	// Completed siblings still come back for partial delivery.
	if len(artifacts) != 1 || artifacts[0].Name != "b.linearized" {
		t.Errorf("artifacts = %+v, want the linearized sibling", artifacts)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := Run(ctx, []Target{stubTarget{name: "packaged"}}, &Input{}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func frag(kind fragment.Kind, original, translated string, fallback bool) *fragment.Fragment {
	return &fragment.Fragment{Kind: kind, OriginalText: original, TranslatedText: translated, Fallback: fallback}
}

func TestLinearized(t *testing.T) {
	in := &Input{
		BaseName: "book.es",
		Frags: []*fragment.Fragment{
			frag(fragment.KindHeading, "Chapter One", "Capítulo uno", false),
			frag(fragment.KindBlock, "Call me <em>Ishmael</em>.", "Llamadme <em>Ismael</em>.", false),
			frag(fragment.KindBlock, "Untranslatable.", "", true),
		},
	}
	art, err := Linearized{}.Render(context.Background(), in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Name != "book.es.txt" || art.MIME != "text/plain; charset=utf-8" {
		t.Errorf("artifact header = %q %q", art.Name, art.MIME)
	}
	text := string(art.Data)
	want := "Capítulo uno\n\nLlamadme Ismael.\n\nUntranslatable.\n\n"
	if text != want {
		t.Errorf("linearized output:\n%q\nwant:\n%q", text, want)
	}
}

func TestLinearizedBilingual(t *testing.T) {
	in := &Input{
		BaseName:  "book.es",
		Bilingual: true,
		Frags: []*fragment.Fragment{
			frag(fragment.KindBlock, "Call me Ishmael.", "Llamadme Ismael.", false),
			frag(fragment.KindBlock, "Left as is.", "", true),
		},
	}
	art, err := Linearized{}.Render(context.Background(), in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(art.Data)
	if !strings.Contains(text, "Llamadme Ismael.\n    (Call me Ishmael.)\n") {
		t.Errorf("missing indented original line:\n%s", text)
	}
	// Fallback fragments appear once, never duplicated as an original line.
	if strings.Count(text, "Left as is.") != 1 {
		t.Errorf("fallback fragment duplicated:\n%s", text)
	}
}

func TestFlowBlocksStripMarkup(t *testing.T) {
	blocks := flowBlocks([]*fragment.Fragment{
		frag(fragment.KindBlock, "a <em>b</em> c", "x <strong>y</strong> z", false),
	}, true)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	if blocks[0].Text != "x y z" || blocks[0].Original != "a b c" {
		t.Errorf("block = %+v", blocks[0])
	}
}

// stubEngine is a canned paginated tier.
type stubEngine struct {
	name string
	data []byte
	err  error
}

func (s stubEngine) Name() string { return s.name }

func (s stubEngine) Render(ctx context.Context, in *Input) ([]byte, error) {
	return s.data, s.err
}

func TestPaginatedFallsThroughTiers(t *testing.T) {
	var logged []string
	p := &Paginated{
		Tiers: []PageEngine{
			stubEngine{name: "first", err: errors.New("binary not found")},
			stubEngine{name: "second", data: []byte("%PDF-ok")},
		},
		OnLog: func(format string, args ...any) { logged = append(logged, format) },
	}
	art, err := p.Render(context.Background(), &Input{BaseName: "b"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Name != "b.pdf" || !bytes.Equal(art.Data, []byte("%PDF-ok")) {
		t.Errorf("artifact = %q %q", art.Name, art.Data)
	}
	if len(logged) != 1 {
		t.Errorf("recovered tier failure not logged: %v", logged)
	}
}

func TestPaginatedAllTiersFail(t *testing.T) {
	p := &Paginated{Tiers: []PageEngine{
		stubEngine{name: "first", err: errors.New("no converter")},
		stubEngine{name: "second", err: errors.New("layout broke")},
	}}
	_, err := p.Render(context.Background(), &Input{BaseName: "b"})
	if err == nil {
		t.Fatal("want error when every tier fails")
	}
	for _, msg := range []string{"no converter", "layout broke"} {
		if !strings.Contains(err.Error(), msg) {
			t.Errorf("joined error missing %q: %v", msg, err)
		}
	}
}

func TestRelHref(t *testing.T) {
	cases := []struct {
		from, target, want string
	}{
		{"OEBPS/ch1.xhtml", "OEBPS/style.css", "style.css"},
		{"OEBPS/text/ch1.xhtml", "OEBPS/style.css", "../style.css"},
		{"OEBPS/a/b/ch.xhtml", "OEBPS/style.css", "../../style.css"},
		{"OEBPS/text/ch.xhtml", "OEBPS/css/style.css", "../css/style.css"},
		{"ch1.xhtml", "style.css", "style.css"},
	}
	for _, tc := range cases {
		if got := relHref(tc.from, tc.target); got != tc.want {
			t.Errorf("relHref(%q, %q) = %q, want %q", tc.from, tc.target, got, tc.want)
		}
	}
}

func TestPackagedBilingualNestedChapters(t *testing.T) {
	book := nestedBook(t)
	trees := make([]*document.Tree, len(book.Chapters))
	for i, ch := range book.Chapters {
		tree, err := document.ParseBytes(ch.Path, ch.Data)
		if err != nil {
			t.Fatal(err)
		}
		trees[i] = tree
	}

	art, err := (Packaged{}).Render(context.Background(), &Input{
		Book:       book,
		Trees:      trees,
		Bilingual:  true,
		SourceLang: "en",
		TargetLang: "es",
		BaseName:   "nested.es",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	out, err := container.ReadBytes(art.Data)
	if err != nil {
		t.Fatalf("re-reading output: %v", err)
	}
	// The chapter sits under text/, one level below the stylesheet.
	ch := string(out.Chapters[0].Data)
	if !strings.Contains(ch, `href="../`+StylesheetName+`"`) {
		t.Errorf("chapter link does not climb to the OPF dir:\n%s", ch)
	}
	var found bool
	for _, a := range out.Assets {
		if a.Path == "OEBPS/"+StylesheetName {
			found = true
		}
	}
	if !found {
		t.Errorf("stylesheet not stored next to the OPF: %+v", out.Assets)
	}
}

// nestedBook builds a container whose spine documents live in a
// subdirectory of the OPF directory.
func nestedBook(t *testing.T) *container.Book {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	mw.Write([]byte("application/epub+zip"))
	entries := map[string]string{
		"META-INF/container.xml": `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Nested</dc:title>
    <dc:creator>N</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">nested</dc:identifier>
  </metadata>
  <manifest>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
  </spine>
</package>`,
		"OEBPS/text/ch1.xhtml": `<html><head><title>c</title></head><body><p>Hello.</p></body></html>`,
	}
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(data))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	book, err := container.ReadBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	return book
}

func TestConvertEngineMissingBinary(t *testing.T) {
	e := &convertEngine{binary: "definitely-not-a-real-converter-binary"}
	_, err := e.Render(context.Background(), &Input{BaseName: "b"})
	if err == nil {
		t.Fatal("want error for a missing converter binary")
	}
}
