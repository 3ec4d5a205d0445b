package translate

import (
	"strings"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/gemini"
)

// Defaults applied when the client omits a sampling parameter.
const (
	defaultTemperature     = 1.0
	defaultTopP            = 0.95
	defaultMaxOutputTokens = 16384
)

// Thinking budget limits. The upstream rejects budgets of 8192 and above
// on most models; flash models take more.
const (
	defaultThinkingBudget = 8191
	flashThinkingBudget   = 24576
)

// harmCategories is every safety category the upstream knows about. All
// of them are disabled: safety filtering belongs to the caller's account
// settings, not the proxy.
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// SupportsThinking reports whether a model (by either its requested or
// mapped name) can emit thought parts.
func SupportsThinking(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "sonnet") ||
		strings.Contains(lower, "thinking") ||
		strings.Contains(lower, "claude-3-7") ||
		strings.Contains(lower, "opus") ||
		strings.Contains(lower, "gemini-2.5") ||
		strings.Contains(lower, "gemini-3")
}

// IsFlashModel reports whether the model takes the larger flash thinking
// budget.
func IsFlashModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "gemini-2.5-flash") || strings.Contains(lower, "flash")
}

// ThinkingBudget clamps a requested budget (0 means unset) to the
// model's limit.
func ThinkingBudget(userBudget int, model string) int {
	budget := userBudget
	if budget <= 0 {
		budget = defaultThinkingBudget
	}
	limit := defaultThinkingBudget
	if IsFlashModel(model) {
		limit = flashThinkingBudget
	}
	if budget > limit {
		return limit
	}
	return budget
}

// BuildThinkingConfig returns the thinkingConfig for a request, or nil
// when neither the requested nor the mapped model supports thinking.
func BuildThinkingConfig(req *anthropic.MessagesRequest, mappedModel string) *gemini.ThinkingConfig {
	if !SupportsThinking(req.Model) && !SupportsThinking(mappedModel) {
		return nil
	}

	userBudget := 0
	if req.Thinking != nil && req.Thinking.BudgetTokens != nil {
		userBudget = *req.Thinking.BudgetTokens
	}
	return &gemini.ThinkingConfig{
		IncludeThoughts: true,
		ThinkingBudget:  ThinkingBudget(userBudget, mappedModel),
	}
}

// BuildGenerationConfig assembles the full generationConfig from client
// parameters and defaults, with thinkingConfig injected when applicable.
func BuildGenerationConfig(req *anthropic.MessagesRequest, mappedModel string) *gemini.GenerationConfig {
	cfg := &gemini.GenerationConfig{
		Temperature:     defaultTemperature,
		TopP:            defaultTopP,
		MaxOutputTokens: defaultMaxOutputTokens,
		CandidateCount:  1,
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = *req.TopP
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	cfg.ThinkingConfig = BuildThinkingConfig(req, mappedModel)
	return cfg
}

// BuildSafetySettings disables every harm category.
func BuildSafetySettings() []gemini.SafetySetting {
	settings := make([]gemini.SafetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		settings = append(settings, gemini.SafetySetting{Category: category, Threshold: "OFF"})
	}
	return settings
}
