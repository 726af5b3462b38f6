// Package config implements .booktrans.yaml configuration file support.
//
// When a .booktrans.yaml exists in the working directory, booktrans uses it
// as the source of defaults for translation jobs; command-line flags
// override individual fields. Every provider in the chain must be
// explicitly declared — there is no auto-detection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvgharbigit/booktranslator/provider"
)

// FileName is the default config file name.
const FileName = ".booktrans.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .booktrans.yaml structure.
type File struct {
	// SourceLang is the source language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// TargetLang is the default target language code.
	TargetLang string `yaml:"target_lang,omitempty"`

	// Bilingual enables dual-language output by default.
	Bilingual bool `yaml:"bilingual,omitempty"`

	// Outputs lists the render targets to produce
	// (packaged, paginated, linearized). Empty means all three.
	Outputs []string `yaml:"outputs,omitempty"`
	// Required lists outputs whose failure fails the job. Empty means
	// only "packaged" is required.
	Required []string `yaml:"required,omitempty"`

	// Providers is the fallback-ordered provider chain.
	Providers []Provider `yaml:"providers"`

	// Budgets carries token budgets, retry limits and dispatch width.
	Budgets Budgets `yaml:"budgets,omitempty"`

	// Selector tunes fragment extraction.
	Selector Selector `yaml:"selector,omitempty"`

	// Converter is the external HTML-to-PDF binary for the paginated
	// output's high-fidelity tier (default "weasyprint").
	Converter string `yaml:"converter,omitempty"`

	// Prompt names the system prompt profile ("default", "literary", or a
	// key from a custom prompts file).
	Prompt string `yaml:"prompt,omitempty"`
	// PromptsFile points at a JSON file with custom prompt profiles.
	PromptsFile string `yaml:"prompts_file,omitempty"`

	// Cache enables the per-book translation memory (default true;
	// set to false to always retranslate).
	Cache *bool `yaml:"cache,omitempty"`
}

// Provider declares one chain entry.
type Provider struct {
	// ID: "openai", "anthropic", "google", "ollama" or "custom-openai".
	ID string `yaml:"id"`
	// Model overrides the provider's default model.
	Model string `yaml:"model,omitempty"`
	// BaseURL overrides the API endpoint (required for custom-openai).
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	// Empty uses the provider's conventional variable, then the
	// credential store.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// Proxy is an optional HTTP(S) proxy URL.
	Proxy string `yaml:"proxy,omitempty"`
	// TimeoutSeconds bounds a single API call (default 300).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Budgets bounds translation cost and dispatch.
type Budgets struct {
	// MaxBatchTokens caps the estimated tokens per batch (default 1500).
	MaxBatchTokens int `yaml:"max_batch_tokens,omitempty"`
	// MaxJobTokens rejects jobs whose total estimate exceeds it. Zero
	// means unbounded.
	MaxJobTokens int `yaml:"max_job_tokens,omitempty"`
	// MaxRetries is the attempts per provider per batch (default 3).
	MaxRetries int `yaml:"max_retries,omitempty"`
	// Concurrency is the parallel batch dispatch width (default 1).
	Concurrency int `yaml:"concurrency,omitempty"`
}

// Selector tunes fragment extraction.
type Selector struct {
	// MinTextLen is the minimum rune count for a block to be translated.
	MinTextLen int `yaml:"min_text_len,omitempty"`
	// SkipTags lists extra element tags whose subtrees are never
	// translated (code and pre are always skipped).
	SkipTags []string `yaml:"skip_tags,omitempty"`
}

// validOutputs is the closed set of render target names.
var validOutputs = map[string]bool{
	"packaged":   true,
	"paginated":  true,
	"linearized": true,
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads and validates .booktrans.yaml from the given directory.
// Returns nil if no config file exists.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if f.SourceLang == "" {
		f.SourceLang = "en"
	}

	for _, out := range f.Outputs {
		if !validOutputs[out] {
			return nil, fmt.Errorf("unknown output %q (valid: packaged, paginated, linearized)", out)
		}
	}
	for _, out := range f.Required {
		if !validOutputs[out] {
			return nil, fmt.Errorf("unknown required output %q", out)
		}
	}

	for i, p := range f.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider #%d has no id", i+1)
		}
		if p.ID == provider.IDCustomOpenAI && p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires base_url", p.ID)
		}
	}

	return &f, nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// CacheEnabled reports whether the translation memory is on.
func (f *File) CacheEnabled() bool {
	return f.Cache == nil || *f.Cache
}

// RequiredSet returns the required-output set; "packaged" when none are
// declared.
func (f *File) RequiredSet() map[string]bool {
	req := map[string]bool{}
	if len(f.Required) == 0 {
		req["packaged"] = true
		return req
	}
	for _, out := range f.Required {
		req[out] = true
	}
	return req
}

// ProviderConfigs converts the declared chain into provider configs.
// resolveKey supplies the API key for a provider id when the declared
// environment variable is empty or unset.
func (f *File) ProviderConfigs(resolveKey func(id string) string) []provider.Config {
	cfgs := make([]provider.Config, 0, len(f.Providers))
	for _, p := range f.Providers {
		cfg := provider.Config{
			ID:      p.ID,
			Model:   p.Model,
			BaseURL: p.BaseURL,
			Proxy:   p.Proxy,
		}
		if p.TimeoutSeconds > 0 {
			cfg.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}
		if p.APIKeyEnv != "" {
			cfg.APIKey = os.Getenv(p.APIKeyEnv)
		}
		if cfg.APIKey == "" && resolveKey != nil {
			cfg.APIKey = resolveKey(p.ID)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}
