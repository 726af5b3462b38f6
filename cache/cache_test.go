package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsEmptyCache(t *testing.T) {
	book := filepath.Join(t.TempDir(), "book.epub")
	c, err := Load(book)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Path() != book+Suffix {
		t.Errorf("path = %q, want %q", c.Path(), book+Suffix)
	}
	if langs, entries := c.Stats(); langs != 0 || entries != 0 {
		t.Errorf("fresh cache has %d langs, %d entries", langs, entries)
	}
	if _, ok := c.Get("es", "anything"); ok {
		t.Error("fresh cache returned a hit")
	}
}

func TestPutGet(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "b.epub"))
	if err != nil {
		t.Fatal(err)
	}
	c.Put("es", "Call me Ishmael.", "Llamadme Ismael.")

	got, ok := c.Get("es", "Call me Ishmael.")
	if !ok || got != "Llamadme Ismael." {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if _, ok := c.Get("fr", "Call me Ishmael."); ok {
		t.Error("hit for the wrong language")
	}
	if _, ok := c.Get("es", "Call me Ahab."); ok {
		t.Error("hit for a different source text")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	book := filepath.Join(t.TempDir(), "b.epub")
	c, err := Load(book)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("es", "one", "uno")
	c.Put("es", "two", "dos")
	c.Put("fr", "one", "un")
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The file keys entries by checksum, never by source text.
	raw, err := os.ReadFile(PathFor(book))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "one") {
		t.Errorf("source text stored verbatim:\n%s", raw)
	}
	if !strings.Contains(string(raw), Hash("one")) {
		t.Errorf("checksum missing:\n%s", raw)
	}

	again, err := Load(book)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Version != Version {
		t.Errorf("version = %d", again.Version)
	}
	if got, ok := again.Get("es", "two"); !ok || got != "dos" {
		t.Errorf("Get after reload = %q, %v", got, ok)
	}
	if langs, entries := again.Stats(); langs != 2 || entries != 3 {
		t.Errorf("stats after reload = %d langs, %d entries", langs, entries)
	}
}

func TestPrune(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "b.epub"))
	if err != nil {
		t.Fatal(err)
	}
	c.Put("es", "keep", "k")
	c.Put("es", "drop", "d")
	c.Put("fr", "drop", "d")

	c.Prune("es", []string{"keep"})

	if _, ok := c.Get("es", "keep"); !ok {
		t.Error("live entry pruned")
	}
	if _, ok := c.Get("es", "drop"); ok {
		t.Error("stale entry survived")
	}
	// Other languages are untouched.
	if _, ok := c.Get("fr", "drop"); !ok {
		t.Error("prune crossed language boundaries")
	}
}

func TestHashStable(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Error("hash not deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Error("hash collision on different inputs")
	}
	if len(Hash("abc")) != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", len(Hash("abc")))
	}
}
