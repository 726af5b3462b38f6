// Package provider implements the translation capability consumed by the
// batch translator: a closed set of HTTP API-based providers (OpenAI,
// Anthropic, Google AI, Ollama, custom OpenAI-compatible endpoints) behind
// one Client interface, plus the explicit per-provider rate/cost state.
package provider

import (
	"context"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Provider IDs (closed set)
// ---------------------------------------------------------------------------

const (
	IDOpenAI       = "openai"
	IDAnthropic    = "anthropic"
	IDGoogle       = "google"
	IDOllama       = "ollama"
	IDCustomOpenAI = "custom-openai"
)

// Client is the translation capability. TranslateBatch performs a single
// attempt; retry, backoff and provider fallback are the batch translator's
// responsibility.
type Client interface {
	// ID returns the provider identifier, recorded per batch for audit.
	ID() string
	// TranslateBatch translates texts in order. The response is positionally
	// aligned 1:1 with the input; length verification is the caller's job.
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
}

// Config holds the configuration for one translation provider.
type Config struct {
	// ID is the provider identifier (openai, anthropic, google, ...).
	ID string
	// BaseURL is the API base URL (empty = provider default).
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the per-request timeout (zero = provider default).
	Timeout time.Duration
	// SystemPrompt overrides the default system prompt.
	SystemPrompt string
}

// defaults returns the pre-configured definitions for the closed provider
// set.
func defaults() map[string]Config {
	return map[string]Config{
		IDOpenAI: {
			ID:      IDOpenAI,
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
		IDAnthropic: {
			ID:      IDAnthropic,
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120 * time.Second,
		},
		IDGoogle: {
			ID:      IDGoogle,
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 120 * time.Second,
		},
		IDOllama: {
			ID:      IDOllama,
			BaseURL: "http://localhost:11434/v1",
			Timeout: 180 * time.Second,
		},
		IDCustomOpenAI: {
			ID:      IDCustomOpenAI,
			Timeout: 60 * time.Second,
		},
	}
}

// New constructs a Client for one provider configuration. Unknown IDs are
// rejected; the provider set is closed.
func New(cfg Config) (Client, error) {
	def, ok := defaults()[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.ID)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q requires a base URL", cfg.ID)
	}

	var format apiFormat
	switch cfg.ID {
	case IDAnthropic:
		format = formatAnthropic
	case IDGoogle:
		format = formatGeminiNative
	default:
		// OpenAI, Ollama and custom endpoints speak chat/completions.
		format = formatOpenAIChat
	}
	return &httpClient{cfg: cfg, format: format}, nil
}

// NewChain constructs the fallback-ordered provider chain from
// configuration. Order is significant: the batch translator walks the chain
// front to back.
func NewChain(cfgs []Config) ([]Client, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	chain := make([]Client, 0, len(cfgs))
	for _, cfg := range cfgs {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	return chain, nil
}
