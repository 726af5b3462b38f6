// Package cache implements a per-book translation memory: a YAML file
// mapping MD5 checksums of source fragment text to their translations, per
// target language. Re-running a job reuses cached translations, so only new
// or changed fragments are sent to the AI provider.
//
// The cache is stored alongside the input book as <book>.btcache.
package cache

import (
	"crypto/md5"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Suffix is appended to the book path to form the cache file path.
const Suffix = ".btcache"

// Version is the cache file format version.
const Version = 1

// Cache holds the translation memory for one book.
type Cache struct {
	Version int `yaml:"version"`
	// Entries maps target language -> source checksum -> translation.
	Entries map[string]map[string]string `yaml:"entries"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// PathFor returns the cache file path for a book path.
func PathFor(bookPath string) string {
	return bookPath + Suffix
}

// Load reads the cache for the given book. A missing file yields an empty
// cache.
func Load(bookPath string) (*Cache, error) {
	path := PathFor(bookPath)
	c := &Cache{
		Version: Version,
		Entries: make(map[string]map[string]string),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	c.path = path
	if c.Entries == nil {
		c.Entries = make(map[string]map[string]string)
	}
	return c, nil
}

// Save writes the cache to disk.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return fmt.Errorf("cache path not set")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	return nil
}

// Path returns the cache file path.
func (c *Cache) Path() string {
	return c.path
}

// Hash computes the MD5 hex digest of a source text.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// Get looks up the cached translation of a source text.
func (c *Cache) Get(lang, source string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.Entries[lang]
	if !ok {
		return "", false
	}
	translation, ok := entries[Hash(source)]
	return translation, ok
}

// Put records a translation.
func (c *Cache) Put(lang, source, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Entries[lang] == nil {
		c.Entries[lang] = make(map[string]string)
	}
	c.Entries[lang][Hash(source)] = translation
}

// Prune drops entries whose source text no longer occurs in the book, so
// stale translations do not accumulate across editions.
func (c *Cache) Prune(lang string, sources []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.Entries[lang]
	if entries == nil {
		return
	}
	live := make(map[string]bool, len(sources))
	for _, s := range sources {
		live[Hash(s)] = true
	}
	for sum := range entries {
		if !live[sum] {
			delete(entries, sum)
		}
	}
}

// Stats returns the number of languages and total cached translations.
func (c *Cache) Stats() (langs, entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	langs = len(c.Entries)
	for _, m := range c.Entries {
		entries += len(m)
	}
	return langs, entries
}
