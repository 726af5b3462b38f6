package container

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Moby Dick</dc:title>
    <dc:creator>Herman Melville</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">test-book</dc:identifier>
  </metadata>
  <manifest>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="img" href="images/whale.png" media-type="image/png"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>
`

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

// buildTestBook assembles a minimal valid packaged document in memory.
func buildTestBook(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	mw.Write([]byte("application/epub+zip"))

	entries := map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/ch1.xhtml":        `<html><body><p>Chapter one.</p></body></html>`,
		"OEBPS/ch2.xhtml":        `<html><body><p>Chapter two.</p></body></html>`,
		"OEBPS/style.css":        `p { margin: 0; }`,
		"OEBPS/images/whale.png": "\x89PNG fake",
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
	return buf.Bytes()
}

func TestReadBytes(t *testing.T) {
	book, err := ReadBytes(buildTestBook(t))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	if book.OPFPath != "OEBPS/content.opf" {
		t.Errorf("OPFPath = %q", book.OPFPath)
	}
	if book.Metadata.Title != "Moby Dick" || book.Metadata.Author != "Herman Melville" || book.Metadata.Language != "en" {
		t.Errorf("metadata = %+v", book.Metadata)
	}

	// Chapters follow spine order, not manifest order.
	if len(book.Chapters) != 2 {
		t.Fatalf("got %d chapters, want 2", len(book.Chapters))
	}
	if book.Chapters[0].ID != "ch1" || book.Chapters[1].ID != "ch2" {
		t.Errorf("spine order wrong: %s, %s", book.Chapters[0].ID, book.Chapters[1].ID)
	}
	if !strings.Contains(string(book.Chapters[0].Data), "Chapter one.") {
		t.Errorf("chapter 1 data wrong: %s", book.Chapters[0].Data)
	}

	// CSS and image pass through as assets.
	if len(book.Assets) != 2 {
		t.Fatalf("got %d assets, want 2: %+v", len(book.Assets), book.Assets)
	}
	byPath := map[string]Asset{}
	for _, a := range book.Assets {
		byPath[a.Path] = a
	}
	if css, ok := byPath["OEBPS/style.css"]; !ok || css.MediaType != "text/css" {
		t.Errorf("stylesheet asset missing or mistyped: %+v", byPath)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(path, buildTestBook(t), 0644); err != nil {
		t.Fatal(err)
	}
	book, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if book.Metadata.Title != "Moby Dick" {
		t.Errorf("title = %q", book.Metadata.Title)
	}
}

func TestReadRejectsBrokenContainers(t *testing.T) {
	if _, err := ReadBytes([]byte("not a zip")); err == nil {
		t.Error("accepted a non-zip input")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("mimetype")
	w.Write([]byte("application/epub+zip"))
	zw.Close()
	if _, err := ReadBytes(buf.Bytes()); err == nil {
		t.Error("accepted a container without META-INF/container.xml")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	book, err := ReadBytes(buildTestBook(t))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	book.Chapters[0].Data = []byte(`<html><body><p>Capítulo uno.</p></body></html>`)
	book.SetLanguage("es")

	out, err := book.WriteBytes()
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	// The mimetype entry must be first and stored uncompressed.
	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("reading written container: %v", err)
	}
	first := zr.File[0]
	if first.Name != "mimetype" {
		t.Errorf("first entry = %q, want mimetype", first.Name)
	}
	if first.Method != zip.Store {
		t.Errorf("mimetype compressed with method %d, want Store", first.Method)
	}

	reread, err := ReadBytes(out)
	if err != nil {
		t.Fatalf("re-reading: %v", err)
	}
	if reread.Metadata.Language != "es" {
		t.Errorf("language = %q, want es", reread.Metadata.Language)
	}
	if !strings.Contains(string(reread.Chapters[0].Data), "Capítulo uno.") {
		t.Errorf("chapter update lost: %s", reread.Chapters[0].Data)
	}
	if len(reread.Assets) != len(book.Assets) {
		t.Errorf("assets changed: %d -> %d", len(book.Assets), len(reread.Assets))
	}
}

func TestAddStylesheet(t *testing.T) {
	book, err := ReadBytes(buildTestBook(t))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	if err := book.AddStylesheet("extra.css", ".bt-original { display: block; }"); err != nil {
		t.Fatalf("AddStylesheet: %v", err)
	}

	out, err := book.WriteBytes()
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	reread, err := ReadBytes(out)
	if err != nil {
		t.Fatalf("re-reading: %v", err)
	}

	var found *Asset
	for i := range reread.Assets {
		if reread.Assets[i].Path == "OEBPS/extra.css" {
			found = &reread.Assets[i]
		}
	}
	if found == nil {
		t.Fatalf("added stylesheet not in re-read assets: %+v", reread.Assets)
	}
	if found.MediaType != "text/css" {
		t.Errorf("manifest media type = %q, want text/css", found.MediaType)
	}
	if !strings.Contains(string(found.Data), "bt-original") {
		t.Errorf("stylesheet content lost: %s", found.Data)
	}
}
