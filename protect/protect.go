// Package protect shields non-translatable sub-spans of fragment text
// before it is handed to a translation provider: raw markup tags, URLs, and
// character references are swapped for short sentinel tokens and restored
// after translation.
//
// Sentinels are bracketed ordinals (⟦0⟧, ⟦1⟧, …) chosen because translation
// models reliably copy them through instead of paraphrasing. They are
// unique within a fragment and must come back verbatim; a lost sentinel is
// a recoverable, per-fragment failure, never job-fatal.
package protect

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// tagRe matches any raw markup tag, opening, closing or self-closing.
	// Protecting the tags (not their text content) keeps inline formatting
	// structure intact while the text between them is translated.
	tagRe = regexp.MustCompile(`(?s)<[^>]*>`)
	// entityRe matches named and numeric character references.
	entityRe = regexp.MustCompile(`&#?[0-9a-zA-Z]+;`)
	// urlRe matches bare URLs left in text content.
	urlRe = regexp.MustCompile(`\bhttps?://[^\s<>()\[\]{}"']+`)
)

// Map records the sentinel → original-span substitutions of one fragment.
type Map struct {
	spans []span
}

type span struct {
	token    string
	original string
}

// Len returns the number of protected spans.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.spans)
}

// Tokens returns the sentinel tokens in substitution order.
func (m *Map) Tokens() []string {
	tokens := make([]string, len(m.spans))
	for i, s := range m.spans {
		tokens[i] = s.token
	}
	return tokens
}

// SentinelLostError reports a sentinel that the translation model dropped
// or altered. The caller substitutes the fragment's original text and
// records a warning.
type SentinelLostError struct {
	Token string
}

func (e *SentinelLostError) Error() string {
	return fmt.Sprintf("protection sentinel %s missing from translated text", e.Token)
}

// Protect replaces every non-translatable span in text with a sentinel and
// returns the protected text plus the map needed to reverse it.
func Protect(text string) (string, *Map) {
	m := &Map{}
	protected := tagRe.ReplaceAllStringFunc(text, m.add)
	protected = entityRe.ReplaceAllStringFunc(protected, m.add)
	protected = urlRe.ReplaceAllStringFunc(protected, m.add)
	return protected, m
}

func (m *Map) add(original string) string {
	token := fmt.Sprintf("⟦%d⟧", len(m.spans))
	m.spans = append(m.spans, span{token: token, original: original})
	return token
}

// Restore replaces every sentinel in translated with its original span.
// Each sentinel must appear exactly as issued; the first missing one aborts
// with *SentinelLostError and the caller falls back to the original text.
func Restore(translated string, m *Map) (string, error) {
	if m.Len() == 0 {
		return translated, nil
	}
	restored := translated
	for _, s := range m.spans {
		if !strings.Contains(restored, s.token) {
			return "", &SentinelLostError{Token: s.token}
		}
		restored = strings.Replace(restored, s.token, s.original, 1)
	}
	return restored, nil
}
