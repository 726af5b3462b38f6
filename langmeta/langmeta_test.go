package langmeta

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "pt_br", want: "pt-BR"},
		{in: " EN-us ", want: "en-US"},
		{in: "ru", want: "ru"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		got := canonicalize(tc.in)
		if got != tc.want {
			t.Fatalf("canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		got := Resolve("en-GB")
		if got.Name != "English (UK)" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("normalized match", func(t *testing.T) {
		got := Resolve("pt_br")
		if got.Name != "Português (Brasil)" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("base fallback", func(t *testing.T) {
		got := Resolve("fr-LU")
		if got.Name != "Français" {
			t.Fatalf("unexpected fallback result: %#v", got)
		}
	})

	t.Run("unknown passthrough", func(t *testing.T) {
		got := Resolve("zz-ZZ")
		if got.Name != "zz-ZZ" {
			t.Fatalf("unexpected unknown result: %#v", got)
		}
	})
}

func TestDirection(t *testing.T) {
	cases := []struct {
		lang string
		want string
	}{
		{lang: "ar", want: "rtl"},
		{lang: "he", want: "rtl"},
		{lang: "fa_IR", want: "rtl"},
		{lang: "es", want: "ltr"},
		{lang: "zz", want: "ltr"},
	}

	for _, tc := range cases {
		if got := Direction(tc.lang); got != tc.want {
			t.Fatalf("Direction(%q) = %q, want %q", tc.lang, got, tc.want)
		}
	}
}

func TestHTMLLang(t *testing.T) {
	if got := HTMLLang("pt_br"); got != "pt-BR" {
		t.Fatalf("HTMLLang(pt_br) = %q, want pt-BR", got)
	}
}
