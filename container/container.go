// Package container reads and writes packaged EPUB documents. It loads a
// book into spine-ordered chapters plus pass-through assets, and serializes
// a (possibly modified) book back into a valid container: mimetype entry
// first and uncompressed, manifest kept consistent with added assets.
//
// The pipeline treats this package as a consumed capability; the
// translation core never touches zip or OPF details directly.
package container

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Precompiled OPF/container queries. EPUB uses default and dc: namespaces;
// matching on local names keeps the reader tolerant of both 2.x and 3.x
// packages.
var (
	xpRootfile = xpath.MustCompile("//*[local-name()='rootfile']")
	xpManifest = xpath.MustCompile("//*[local-name()='manifest']")
	xpItems    = xpath.MustCompile("//*[local-name()='manifest']/*[local-name()='item']")
	xpItemrefs = xpath.MustCompile("//*[local-name()='spine']/*[local-name()='itemref']")
	xpTitle    = xpath.MustCompile("//*[local-name()='metadata']/*[local-name()='title']")
	xpCreator  = xpath.MustCompile("//*[local-name()='metadata']/*[local-name()='creator']")
	xpLanguage = xpath.MustCompile("//*[local-name()='metadata']/*[local-name()='language']")
)

const (
	mimetypePath  = "mimetype"
	containerPath = "META-INF/container.xml"
	epubMimetype  = "application/epub+zip"
	xhtmlMime     = "application/xhtml+xml"
)

// Metadata holds the book-level metadata the pipeline cares about.
type Metadata struct {
	Title    string
	Author   string
	Language string
}

// Chapter is one spine-ordered content document.
type Chapter struct {
	ID   string
	Path string
	Data []byte
}

// Asset is a non-chapter file carried through unchanged (images,
// stylesheets, fonts, the NCX, ...).
type Asset struct {
	Path      string
	Data      []byte
	MediaType string
}

// Book is a loaded packaged document.
type Book struct {
	OPFPath  string
	Metadata Metadata
	Chapters []Chapter
	Assets   []Asset

	opfDoc *xmlquery.Node
}

// Read loads a packaged document from a file.
func Read(name string) (*Book, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", name, err)
	}
	defer zr.Close()
	return readZip(&zr.Reader)
}

// ReadBytes loads a packaged document from memory.
func ReadBytes(data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	return readZip(zr)
}

func readZip(zr *zip.Reader) (*Book, error) {
	files := make(map[string][]byte, len(zr.File))
	var order []string
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		files[f.Name] = data
		order = append(order, f.Name)
	}

	containerXML, ok := files[containerPath]
	if !ok {
		return nil, fmt.Errorf("container has no %s", containerPath)
	}
	cdoc, err := xmlquery.Parse(bytes.NewReader(containerXML))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", containerPath, err)
	}
	rootfile := xmlquery.QuerySelector(cdoc, xpRootfile)
	if rootfile == nil {
		return nil, fmt.Errorf("%s declares no rootfile", containerPath)
	}
	opfPath := rootfile.SelectAttr("full-path")
	opfData, ok := files[opfPath]
	if !ok {
		return nil, fmt.Errorf("rootfile %s missing from container", opfPath)
	}

	opfDoc, err := xmlquery.Parse(bytes.NewReader(opfData))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", opfPath, err)
	}

	book := &Book{OPFPath: opfPath, opfDoc: opfDoc}
	book.Metadata = Metadata{
		Title:    textOf(xmlquery.QuerySelector(opfDoc, xpTitle)),
		Author:   textOf(xmlquery.QuerySelector(opfDoc, xpCreator)),
		Language: textOf(xmlquery.QuerySelector(opfDoc, xpLanguage)),
	}

	base := path.Dir(opfPath)
	type item struct {
		href      string
		mediaType string
	}
	items := make(map[string]item)
	for _, n := range xmlquery.QuerySelectorAll(opfDoc, xpItems) {
		items[n.SelectAttr("id")] = item{
			href:      n.SelectAttr("href"),
			mediaType: n.SelectAttr("media-type"),
		}
	}

	chapterPaths := make(map[string]bool)
	for _, ref := range xmlquery.QuerySelectorAll(opfDoc, xpItemrefs) {
		idref := ref.SelectAttr("idref")
		it, ok := items[idref]
		if !ok {
			return nil, fmt.Errorf("spine references unknown item %q", idref)
		}
		if it.mediaType != xhtmlMime && !strings.HasSuffix(it.href, ".xhtml") && !strings.HasSuffix(it.href, ".html") {
			continue
		}
		full := joinHref(base, it.href)
		data, ok := files[full]
		if !ok {
			return nil, fmt.Errorf("spine item %s missing from container", full)
		}
		book.Chapters = append(book.Chapters, Chapter{ID: idref, Path: full, Data: data})
		chapterPaths[full] = true
	}
	if len(book.Chapters) == 0 {
		return nil, fmt.Errorf("container has no spine content documents")
	}

	mediaByPath := make(map[string]string)
	for _, it := range items {
		mediaByPath[joinHref(base, it.href)] = it.mediaType
	}
	for _, name := range order {
		if name == mimetypePath || name == containerPath || name == opfPath || chapterPaths[name] {
			continue
		}
		book.Assets = append(book.Assets, Asset{
			Path:      name,
			Data:      files[name],
			MediaType: mediaByPath[name],
		})
	}
	return book, nil
}

func joinHref(base, href string) string {
	if base == "." || base == "" {
		return href
	}
	return path.Join(base, href)
}

func textOf(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

// SetLanguage updates the dc:language metadata element and the cached
// Metadata.
func (b *Book) SetLanguage(lang string) {
	b.Metadata.Language = lang
	n := xmlquery.QuerySelector(b.opfDoc, xpLanguage)
	if n == nil {
		return
	}
	if n.FirstChild != nil && n.FirstChild.Type == xmlquery.TextNode {
		n.FirstChild.Data = lang
		return
	}
	xmlquery.AddChild(n, &xmlquery.Node{Type: xmlquery.TextNode, Data: lang})
}

// AddStylesheet registers a CSS asset next to the OPF and declares it in
// the manifest so downstream readers resolve it as an external resource.
func (b *Book) AddStylesheet(name, css string) error {
	manifest := xmlquery.QuerySelector(b.opfDoc, xpManifest)
	if manifest == nil {
		return fmt.Errorf("package has no manifest")
	}
	id := "bt-style-" + strings.TrimSuffix(path.Base(name), path.Ext(name))
	item := &xmlquery.Node{Type: xmlquery.ElementNode, Data: "item"}
	xmlquery.AddAttr(item, "id", id)
	xmlquery.AddAttr(item, "href", name)
	xmlquery.AddAttr(item, "media-type", "text/css")
	xmlquery.AddChild(manifest, item)

	b.Assets = append(b.Assets, Asset{
		Path:      joinHref(path.Dir(b.OPFPath), name),
		Data:      []byte(css),
		MediaType: "text/css",
	})
	return nil
}

// Write serializes the book back into the packaged format. The mimetype
// entry is written first and stored uncompressed, as the format requires.
func (b *Book) Write(w io.Writer) error {
	zw := zip.NewWriter(w)

	mw, err := zw.CreateHeader(&zip.FileHeader{Name: mimetypePath, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("writing mimetype: %w", err)
	}
	if _, err := mw.Write([]byte(epubMimetype)); err != nil {
		return fmt.Errorf("writing mimetype: %w", err)
	}

	if err := writeEntry(zw, containerPath, []byte(containerXMLFor(b.OPFPath))); err != nil {
		return err
	}
	if err := writeEntry(zw, b.OPFPath, b.opfBytes()); err != nil {
		return err
	}
	for _, ch := range b.Chapters {
		if err := writeEntry(zw, ch.Path, ch.Data); err != nil {
			return err
		}
	}
	for _, a := range b.Assets {
		if err := writeEntry(zw, a.Path, a.Data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing container: %w", err)
	}
	return nil
}

// WriteBytes is a convenience wrapper around Write.
func (b *Book) WriteBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (b *Book) opfBytes() []byte {
	out := b.opfDoc.OutputXML(true)
	if !strings.HasPrefix(out, "<?xml") {
		out = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + out
	}
	return []byte(out)
}

func containerXMLFor(opfPath string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + opfPath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
}
