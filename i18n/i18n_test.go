package i18n

import "testing"

func initLang(t *testing.T, lang string) {
	t.Helper()
	old := po
	t.Cleanup(func() { po = old })
	Init(lang)
}

func TestEmbeddedCatalogs(t *testing.T) {
	cases := []struct {
		lang  string
		msgid string
		want  string
	}{
		{"ru", "Done", "Готово"},
		{"ru", "Translating book...", "Перевод книги..."},
		{"es", "Done", "Listo"},
		{"es", "Rendering outputs...", "Generando archivos de salida..."},
	}
	for _, tc := range cases {
		t.Run(tc.lang+"/"+tc.msgid, func(t *testing.T) {
			initLang(t, tc.lang)
			if got := T(tc.msgid); got != tc.want {
				t.Errorf("T(%q) = %q, want %q", tc.msgid, got, tc.want)
			}
		})
	}
}

func TestPluralForms(t *testing.T) {
	cases := []struct {
		lang string
		n    int
		want string
	}{
		// Russian: three forms.
		{"ru", 1, "%d фрагмент"},
		{"ru", 2, "%d фрагмента"},
		{"ru", 5, "%d фрагментов"},
		{"ru", 21, "%d фрагмент"},
		// Spanish: singular only at exactly one.
		{"es", 1, "%d fragmento"},
		{"es", 2, "%d fragmentos"},
		{"es", 0, "%d fragmentos"},
	}
	for _, tc := range cases {
		initLang(t, tc.lang)
		if got := N("%d fragment", "%d fragments", tc.n); got != tc.want {
			t.Errorf("%s: N(n=%d) = %q, want %q", tc.lang, tc.n, got, tc.want)
		}
	}
}

func TestUntranslatedPassthrough(t *testing.T) {
	initLang(t, "ru")
	if got := T("no such message"); got != "no such message" {
		t.Errorf("missing msgid must pass through, got %q", got)
	}

	// A language without a catalog behaves like the identity translation.
	initLang(t, "ja")
	if got := T("Done"); got != "Done" {
		t.Errorf("unknown locale returned %q", got)
	}
	if got := N("%d fragment", "%d fragments", 3); got != "%d fragments" {
		t.Errorf("unknown locale plural = %q", got)
	}
}

func TestUninitializedFallback(t *testing.T) {
	old := po
	po = nil
	t.Cleanup(func() { po = old })

	if got := T("Done"); got != "Done" {
		t.Errorf("T fallback = %q", got)
	}
	if got := N("%d fragment", "%d fragments", 1); got != "%d fragment" {
		t.Errorf("N singular fallback = %q", got)
	}
	if got := N("%d fragment", "%d fragments", 4); got != "%d fragments" {
		t.Errorf("N plural fallback = %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	clear := func(t *testing.T) {
		for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
			t.Setenv(env, "")
		}
	}

	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"LANGUAGE wins over LC_ALL", map[string]string{"LANGUAGE": "ru_RU.UTF-8:en_US", "LC_ALL": "de_DE.UTF-8"}, "ru_RU"},
		{"LC_ALL wins over LANG", map[string]string{"LC_ALL": "es_ES.UTF-8", "LANG": "ru_RU.UTF-8"}, "es_ES"},
		{"encoding suffix stripped", map[string]string{"LANG": "es_MX.UTF-8"}, "es_MX"},
		{"C locale skipped", map[string]string{"LANGUAGE": "C", "LC_ALL": "POSIX", "LC_MESSAGES": "fr_FR.UTF-8"}, "fr_FR"},
		{"nothing set falls back to en", nil, "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clear(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if got := detectLanguage(); got != tc.want {
				t.Errorf("detectLanguage() = %q, want %q", got, tc.want)
			}
		})
	}
}
