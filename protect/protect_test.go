package protect

import (
	"errors"
	"strings"
	"testing"
)

func TestProtectShieldsMarkup(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		spans int
	}{
		{"plain text", "Call me Ishmael.", 0},
		{"inline tags", `Call me <em>Ishmael</em>.`, 2},
		{"self-closing", `A line<br/>break`, 1},
		{"entity", "Fish &amp; chips", 1},
		{"numeric entity", "A&#160;space", 1},
		{"bare url", "See https://example.com/a?b=c for details", 1},
		{"mixed", `<a href="https://x.org">link</a> &mdash; and https://y.org`, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protected, m := Protect(tt.text)
			if m.Len() != tt.spans {
				t.Fatalf("Protect(%q) shielded %d spans, want %d", tt.text, m.Len(), tt.spans)
			}
			if strings.ContainsAny(protected, "<>") {
				t.Errorf("protected text still contains markup: %q", protected)
			}
			if tt.spans > 0 && strings.Contains(protected, "http") {
				t.Errorf("protected text still contains a URL: %q", protected)
			}
			for _, token := range m.Tokens() {
				if strings.Count(protected, token) != 1 {
					t.Errorf("sentinel %s occurs %d times in %q, want 1",
						token, strings.Count(protected, token), protected)
				}
			}
		})
	}
}

func TestProtectRestoreRoundTrip(t *testing.T) {
	texts := []string{
		"Call me Ishmael.",
		`Some years ago — <em>never mind how long</em> — having little money`,
		`<a href="https://example.com/ch1">Chapter&nbsp;1</a> &amp; more at https://example.org`,
		`<span class="note">a</span><span class="note">b</span>`,
	}

	for _, text := range texts {
		protected, m := Protect(text)
		restored, err := Restore(protected, m)
		if err != nil {
			t.Fatalf("Restore(%q): %v", text, err)
		}
		if restored != text {
			t.Errorf("round trip changed text:\n  got  %q\n  want %q", restored, text)
		}
	}
}

func TestRestoreWithTranslatedTextBetweenSentinels(t *testing.T) {
	protected, m := Protect(`Read <em>Moby Dick</em> at https://example.com`)
	// Simulate a model that moved the sentinels but kept them verbatim.
	translated := strings.ReplaceAll(protected, "Read", "Lee")

	restored, err := Restore(translated, m)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !strings.Contains(restored, "<em>") || !strings.Contains(restored, "https://example.com") {
		t.Errorf("restored text missing original spans: %q", restored)
	}
	if strings.Contains(restored, "⟦") {
		t.Errorf("restored text still contains sentinels: %q", restored)
	}
}

func TestRestoreReportsLostSentinel(t *testing.T) {
	_, m := Protect(`<b>bold</b> text`)

	_, err := Restore("texto sin marcadores", m)
	var lost *SentinelLostError
	if !errors.As(err, &lost) {
		t.Fatalf("Restore() error = %v, want *SentinelLostError", err)
	}
	if lost.Token != "⟦0⟧" {
		t.Errorf("lost token = %q, want ⟦0⟧", lost.Token)
	}
}

func TestRestoreNoSpansPassthrough(t *testing.T) {
	_, m := Protect("plain")
	got, err := Restore("llano", m)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got != "llano" {
		t.Errorf("Restore = %q, want %q", got, "llano")
	}
}

// Dense inline markup must survive: every tag and entity comes back in
// order even when the fragment is mostly sentinels.
func TestProtectDenseInlineMarkup(t *testing.T) {
	text := `<i>Quo</i>&nbsp;<b>usque</b>&nbsp;<i>tandem</i>&nbsp;abutere, ` +
		`<a href="https://la.example/catilina">Catilina</a>, patientia&nbsp;nostra?`

	protected, m := Protect(text)
	if m.Len() != 12 {
		t.Fatalf("shielded %d spans, want 12", m.Len())
	}

	// Tokens are ordinal and unique.
	seen := map[string]bool{}
	for _, token := range m.Tokens() {
		if seen[token] {
			t.Fatalf("duplicate sentinel %s", token)
		}
		seen[token] = true
	}

	restored, err := Restore(protected, m)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != text {
		t.Errorf("round trip changed text:\n  got  %q\n  want %q", restored, text)
	}
}
