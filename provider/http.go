package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kvgharbigit/booktranslator/langmeta"
)

// ---------------------------------------------------------------------------
// API format types
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat   apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                  // Google Gemini generateContent
	formatAnthropic                     // Anthropic messages
)

// httpClient is the HTTP-backed Client covering the whole closed provider
// set; the apiFormat selects request/response shape.
type httpClient struct {
	cfg    Config
	format apiFormat
}

func (c *httpClient) ID() string { return c.cfg.ID }

// TranslateBatch performs a single translation attempt for one batch.
func (c *httpClient) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	systemPrompt := c.resolvedPrompt(sourceLang, targetLang)
	userPrompt := buildUserPrompt(texts)

	endpoint, headers, body, err := c.buildRequest(systemPrompt, userPrompt)
	if err != nil {
		return nil, &ProviderError{Provider: c.cfg.ID, Message: "building request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: c.cfg.ID, Message: "creating request", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := makeHTTPClient(c.cfg.Proxy, c.cfg.Timeout).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: c.cfg.ID, Message: "request failed", Err: err}
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: c.cfg.ID, RetryAfter: parseRetryDelay(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: c.cfg.ID,
			Status:   resp.StatusCode,
			Message:  truncate(string(respBody), 500),
		}
	}

	text, err := extractResponseText(respBody)
	if err != nil {
		return nil, &ProviderError{Provider: c.cfg.ID, Message: "reading response", Err: err}
	}
	return parseBatch(c.cfg.ID, text)
}

func (c *httpClient) resolvedPrompt(sourceLang, targetLang string) string {
	prompt := c.cfg.SystemPrompt
	if prompt == "" {
		prompt = PromptByName("default")
	}
	prompt = strings.ReplaceAll(prompt, "{{sourceLang}}", langmeta.Name(sourceLang))
	return strings.ReplaceAll(prompt, "{{targetLang}}", langmeta.Name(targetLang))
}

// buildUserPrompt numbers the batch texts and pins the expected result
// shape. Sentinel tokens are already embedded in the texts at this point.
func buildUserPrompt(texts []string) string {
	var sb strings.Builder
	sb.WriteString("Translate these passages:\n\n")
	for i, text := range texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, escapeForPrompt(text))
	}
	fmt.Fprintf(&sb, "\nReturn a JSON array with exactly %d translated strings.", len(texts))
	return sb.String()
}

func (c *httpClient) buildRequest(systemPrompt, userPrompt string) (string, map[string]string, []byte, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	baseURL := strings.TrimRight(c.cfg.BaseURL, "/")

	var endpoint string
	var body []byte
	var err error

	switch c.format {
	case formatGeminiNative:
		// Google AI: POST /v1beta/models/{model}:generateContent
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, c.cfg.Model)
		if c.cfg.APIKey != "" {
			headers["x-goog-api-key"] = c.cfg.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.3)

	case formatAnthropic:
		endpoint = baseURL + "/messages"
		if c.cfg.APIKey != "" {
			headers["x-api-key"] = c.cfg.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(c.cfg.Model, systemPrompt, userPrompt)

	default: // formatOpenAIChat
		endpoint = baseURL
		if !strings.HasSuffix(endpoint, "/chat/completions") {
			endpoint += "/chat/completions"
		}
		if c.cfg.APIKey != "" {
			headers["Authorization"] = "Bearer " + c.cfg.APIKey
		}
		body, err = buildOpenAIChatRequest(c.cfg.Model, systemPrompt, userPrompt, 0.3)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// HTTP client with proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		Stream:      false,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system,omitempty"`
		Messages  []msg  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages: []msg{
			{Role: "user", Content: userPrompt},
		},
	}
	return json.Marshal(req)
}

// ---------------------------------------------------------------------------
// Response parsers (multi-format)
// ---------------------------------------------------------------------------

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	// Check for API error
	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// 1. OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// 2. Gemini format: candidates[0].content.parts[0].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	// 3. Anthropic format: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok {
				if block["type"] == "text" {
					if text, ok := block["text"].(string); ok {
						return text, nil
					}
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// ---------------------------------------------------------------------------
// Rate limit: parse 429 response for retry delay
// ---------------------------------------------------------------------------

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			// Parse duration like "30s", "45.123s"
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

// ---------------------------------------------------------------------------
// Batch response parsing (JSON array protocol)
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseBatch parses the model's reply into an ordered string slice. A reply
// that is not a JSON array is a transient provider failure: retrying usually
// produces a compliant one.
func parseBatch(providerID, content string) ([]string, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code blocks if present
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	// Isolate the JSON array in the response
	startIdx := strings.Index(content, "[")
	endIdx := strings.LastIndex(content, "]")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var translations []string
	if err := json.Unmarshal([]byte(content), &translations); err != nil {
		return nil, &ProviderError{
			Provider: providerID,
			Message:  fmt.Sprintf("response is not a JSON string array: %s", truncate(content, 300)),
			Err:      err,
		}
	}
	for i, tr := range translations {
		translations[i] = unescapeFromPrompt(tr)
	}
	return translations, nil
}

// escapeForPrompt keeps one numbered entry per input text.
func escapeForPrompt(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// unescapeFromPrompt inverts escapeForPrompt. Models usually copy the
// escaped newline sequences verbatim, so they must map back to newlines in
// the restored text.
func unescapeFromPrompt(s string) string {
	return strings.ReplaceAll(s, "\\n", "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
