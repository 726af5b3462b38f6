package provider

import (
	"encoding/json"
	"fmt"
	"os"
)

// ---------------------------------------------------------------------------
// System prompts
// ---------------------------------------------------------------------------

// PromptsConfig holds all system prompts loaded from prompts.json.
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

// globalPrompts holds the loaded prompts configuration.
var globalPrompts *PromptsConfig

// LoadPromptsFromFile loads system prompts from a JSON file. A missing file
// is not an error — the embedded defaults are used.
func LoadPromptsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var config PromptsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	globalPrompts = &config
	return nil
}

// DefaultPromptsMap returns all built-in system prompts as a map.
func DefaultPromptsMap() map[string]string {
	return map[string]string{
		"default":  DefaultSystemPrompt,
		"literary": LiterarySystemPrompt,
	}
}

// PromptByName returns the system prompt for a given prompt type, preferring
// user-customized prompts over embedded defaults.
func PromptByName(promptType string) string {
	if globalPrompts != nil {
		if prompt, ok := globalPrompts.Prompts[promptType]; ok && prompt != "" {
			return prompt
		}
	}

	switch promptType {
	case "literary":
		return LiterarySystemPrompt
	default:
		return DefaultSystemPrompt
	}
}

// DefaultSystemPrompt is the book translation prompt. The placeholder rules
// are load-bearing: sentinel tokens like ⟦3⟧ carry the protected markup of
// each passage and must survive the round trip verbatim.
const DefaultSystemPrompt = `You are a professional literary translator. You are translating passages of a book from {{sourceLang}} into {{targetLang}}.

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in {{targetLang}}, not word-for-word
- Preserve the author's tone, register and narrative voice
- Adapt idioms and sentence structure to {{targetLang}} conventions
- Keep proper nouns, character names and place names unchanged unless they have established translations

CRITICAL PLACEHOLDER RULES:
- Passages contain placeholder tokens like ⟦0⟧, ⟦1⟧, ⟦2⟧
- Copy every placeholder into the translation EXACTLY as written, unmodified
- Never remove, renumber, translate or paraphrase a placeholder
- Keep each placeholder adjacent to the same words it marks in the source

TECHNICAL REQUIREMENTS:
- Return ONLY a JSON array of translated strings, one for each input passage, in the same order.
- Preserve leading/trailing whitespace and punctuation patterns.
- Return ONLY the JSON array, no explanations or markdown code blocks.`

// LiterarySystemPrompt is a higher-register variant for classical prose and
// poetry.
const LiterarySystemPrompt = `You are an accomplished literary translator specializing in classical prose and poetry. You are translating passages of a literary work from {{sourceLang}} into {{targetLang}}.

IMPORTANT TRANSLATION PRINCIPLES:
- Recreate rhythm, imagery and register in {{targetLang}}; favor literary quality over literal fidelity
- Preserve verse line breaks and stanza boundaries where the source has them
- Keep archaic or elevated diction where the source uses it

CRITICAL PLACEHOLDER RULES:
- Passages contain placeholder tokens like ⟦0⟧, ⟦1⟧, ⟦2⟧
- Copy every placeholder into the translation EXACTLY as written, unmodified
- Never remove, renumber, translate or paraphrase a placeholder

TECHNICAL REQUIREMENTS:
- Return ONLY a JSON array of translated strings, one for each input passage, in the same order.
- Return ONLY the JSON array, no explanations or markdown code blocks.`
