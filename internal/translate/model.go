// Package translate turns an incoming Messages API request into the
// upstream request body: model name mapping, content conversion, tool
// schema sanitizing, and generation config.
package translate

import (
	"strings"

	"github.com/howard-nolan/geminigate/internal/anthropic"
)

// supportedModels are names the upstream accepts as-is, so they pass
// through untouched.
var supportedModels = map[string]bool{
	"claude-opus-4-5-thinking":  true,
	"claude-sonnet-4-5":         true,
	"claude-sonnet-4-5-thinking": true,
	"gemini-2.5-flash":          true,
	"gemini-3-pro-preview":      true,
	"gemini-3-flash-preview":    true,
	"gemini-2.0-flash-exp":      true,
}

// exactAliases maps known published model names to their upstream
// equivalents. Checked before the fuzzy keyword rules.
var exactAliases = map[string]string{
	// Sonnet
	"claude-sonnet-4-5-20250929":  "claude-sonnet-4-5-thinking",
	"claude-3-5-sonnet-20241022":  "claude-sonnet-4-5",
	"claude-3-5-sonnet-20240620":  "claude-sonnet-4-5",
	// Opus
	"claude-opus-4":          "claude-opus-4-5-thinking",
	"claude-opus-4-5-20251101": "claude-opus-4-5-thinking",
	"claude-opus-4-5":        "claude-opus-4-5-thinking",
	// Haiku
	"claude-haiku-4":            "claude-sonnet-4-5",
	"claude-3-haiku-20240307":   "claude-sonnet-4-5",
	"claude-haiku-4-5-20251001": "claude-sonnet-4-5",
	// Gemini internal names
	"gemini-3-pro-high": "gemini-3-pro-preview",
	"gemini-3-pro-low":  "gemini-3-pro-preview",
	"gemini-3-flash":    "gemini-3-flash-preview",
}

// webSearchModel is forced whenever the request declares a web_search
// tool; only this model backs the googleSearch tool.
const webSearchModel = "gemini-2.5-flash"

// fallbackModel is the last resort for names nothing else matched.
const fallbackModel = "claude-sonnet-4-5"

// ModelMapper resolves requested model names to upstream model names.
// Custom mappings (from config) take precedence over everything except
// the web_search override.
type ModelMapper struct {
	custom map[string]string
}

// NewModelMapper creates a mapper with the given custom name overrides.
// A nil map is fine.
func NewModelMapper(custom map[string]string) *ModelMapper {
	return &ModelMapper{custom: custom}
}

// Map resolves a model name without considering tools.
//
// Precedence: custom mapping > supported passthrough > exact alias >
// keyword match > gemini- passthrough > fallback.
func (m *ModelMapper) Map(name string) string {
	if mapped, ok := m.custom[name]; ok {
		return mapped
	}
	if supportedModels[name] {
		return name
	}
	if mapped, ok := exactAliases[name]; ok {
		return mapped
	}

	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "sonnet") || strings.Contains(lower, "thinking"):
		return "gemini-3-pro-preview"
	case strings.Contains(lower, "haiku"):
		return "gemini-2.0-flash-exp"
	case strings.Contains(lower, "opus"):
		return "gemini-3-pro-preview"
	}

	// Unknown gemini models are assumed valid upstream.
	if strings.HasPrefix(lower, "gemini-") {
		return name
	}
	return fallbackModel
}

// MapWithTools resolves a model name, forcing the search-capable model
// when any declared tool is web_search.
func (m *ModelMapper) MapWithTools(name string, tools []anthropic.Tool) string {
	if HasWebSearch(tools) {
		return webSearchModel
	}
	return m.Map(name)
}

// HasWebSearch reports whether the tool list declares web_search.
func HasWebSearch(tools []anthropic.Tool) bool {
	for _, t := range tools {
		if t.Name == "web_search" {
			return true
		}
	}
	return false
}
