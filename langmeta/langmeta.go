// Package langmeta provides a shared language metadata registry (native
// names and text direction) used by translation prompts, the bilingual
// composer, and CLI output.
package langmeta

import "strings"

// Meta describes language display metadata.
type Meta struct {
	// Name is the language's native name, used in translation prompts.
	Name string
	// RTL is true for right-to-left scripts.
	RTL bool
}

// Registry contains canonical language metadata. Locale variants are
// resolved in Resolve() via normalization and base-language fallback.
var Registry = map[string]Meta{
	"ar":    {Name: "العربية", RTL: true},
	"bg":    {Name: "Български"},
	"bn":    {Name: "বাংলা"},
	"ca":    {Name: "Català"},
	"cs":    {Name: "Čeština"},
	"da":    {Name: "Dansk"},
	"de":    {Name: "Deutsch"},
	"el":    {Name: "Ελληνικά"},
	"en":    {Name: "English"},
	"en-GB": {Name: "English (UK)"},
	"en-US": {Name: "English (US)"},
	"es":    {Name: "Español"},
	"es-MX": {Name: "Español (México)"},
	"fa":    {Name: "فارسی", RTL: true},
	"fi":    {Name: "Suomi"},
	"fr":    {Name: "Français"},
	"he":    {Name: "עברית", RTL: true},
	"hi":    {Name: "हिन्दी"},
	"hr":    {Name: "Hrvatski"},
	"hu":    {Name: "Magyar"},
	"id":    {Name: "Bahasa Indonesia"},
	"it":    {Name: "Italiano"},
	"ja":    {Name: "日本語"},
	"ko":    {Name: "한국어"},
	"lt":    {Name: "Lietuvių"},
	"lv":    {Name: "Latviešu"},
	"nb":    {Name: "Norsk bokmål"},
	"nl":    {Name: "Nederlands"},
	"pl":    {Name: "Polski"},
	"pt":    {Name: "Português"},
	"pt-BR": {Name: "Português (Brasil)"},
	"pt-PT": {Name: "Português (Portugal)"},
	"ro":    {Name: "Română"},
	"ru":    {Name: "Русский"},
	"sk":    {Name: "Slovenčina"},
	"sl":    {Name: "Slovenščina"},
	"sr":    {Name: "Српски"},
	"sv":    {Name: "Svenska"},
	"th":    {Name: "ไทย"},
	"tr":    {Name: "Türkçe"},
	"uk":    {Name: "Українська"},
	"ur":    {Name: "اردو", RTL: true},
	"vi":    {Name: "Tiếng Việt"},
	"zh":    {Name: "中文"},
	"zh-CN": {Name: "简体中文"},
	"zh-TW": {Name: "繁體中文"},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like pt_BR, pt-BR, and locale fallbacks.
func Resolve(lang string) Meta {
	if m, ok := Registry[lang]; ok {
		return m
	}
	normalized := canonicalize(lang)
	if m, ok := Registry[normalized]; ok {
		return m
	}
	if parts := strings.SplitN(normalized, "-", 2); len(parts) == 2 {
		if m, ok := Registry[parts[0]]; ok {
			return m
		}
	}
	return Meta{Name: lang}
}

// Name returns the native display name for a language code, falling back
// to the code itself when the language is unknown.
func Name(lang string) string {
	return Resolve(lang).Name
}

// Direction returns the HTML dir attribute value ("rtl" or "ltr") for a
// language code.
func Direction(lang string) string {
	if Resolve(lang).RTL {
		return "rtl"
	}
	return "ltr"
}

// HTMLLang converts a language code to its BCP 47 form for HTML lang
// attributes (e.g. "pt_BR" -> "pt-BR").
func HTMLLang(lang string) string {
	return canonicalize(lang)
}
