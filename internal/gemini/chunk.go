package gemini

import "encoding/json"

// ---------------------------------------------------------------------------
// Streaming response types
// ---------------------------------------------------------------------------

// The upstream streams OpenAI-shaped SSE events whose delta objects carry
// Gemini extensions (thought, thoughtSignature, functionCall):
//
//   data: {"choices":[{"delta":{"content":"Hi","thought":true}}],"usage":{...}}

// Chunk is one decoded SSE event from the upstream stream.
type Chunk struct {
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one streamed candidate. FinishReason is empty until the final
// event of the candidate.
type Choice struct {
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage carries token counts, usually only on the final event. Upstreams
// disagree on the key name for output tokens, so both are kept.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

// OutputTokenCount returns whichever output-token field the upstream set.
func (u *Usage) OutputTokenCount() int {
	if u == nil {
		return 0
	}
	if u.CompletionTokens > 0 {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

// Delta is the incremental payload of one chunk.
type Delta struct {
	Content          string
	Thought          bool
	ThoughtSignature *string
	FunctionCall     *FunctionCall
}

// UnmarshalJSON decodes a delta leniently: a field whose JSON type doesn't
// match (a numeric "content", a string "thought") is treated as absent
// instead of failing the whole chunk. Upstreams have shipped all of these.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["content"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			d.Content = s
		}
	}
	if v, ok := raw["thought"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			d.Thought = b
		}
	}
	if v, ok := raw["thoughtSignature"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			d.ThoughtSignature = &s
		}
	}
	if v, ok := raw["functionCall"]; ok {
		var fc FunctionCall
		if json.Unmarshal(v, &fc) == nil {
			d.FunctionCall = &fc
		}
	}
	return nil
}

// Signature returns the thought signature, or "" when absent.
func (d *Delta) Signature() string {
	if d.ThoughtSignature == nil {
		return ""
	}
	return *d.ThoughtSignature
}

// HasSignature reports whether the delta carried a thoughtSignature key,
// even an empty one.
func (d *Delta) HasSignature() bool {
	return d.ThoughtSignature != nil
}

// Empty reports whether the delta carries nothing at all.
func (d *Delta) Empty() bool {
	return d.Content == "" && !d.Thought && d.ThoughtSignature == nil && d.FunctionCall == nil
}

// ---------------------------------------------------------------------------
// Error response types
// ---------------------------------------------------------------------------

// ErrorResponse is the JSON body of a failed upstream call. Details is kept
// raw: the retry policy digs RetryInfo / quota metadata out of it.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner error object.
type ErrorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status,omitempty"`
	Details []json.RawMessage `json:"details,omitempty"`
}
