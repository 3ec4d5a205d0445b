// Package gemini defines the upstream wire types: the request body we send
// to the Gemini-style endpoint and the streaming chunks it sends back.
package gemini

import "encoding/json"

// ---------------------------------------------------------------------------
// Request types
// ---------------------------------------------------------------------------

// Request is the top-level body for a streaming generate call.
type Request struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

// GenerationConfig holds the sampling parameters for a generate call.
type GenerationConfig struct {
	Temperature     float64         `json:"temperature"`
	TopP            float64         `json:"topP"`
	MaxOutputTokens int             `json:"maxOutputTokens"`
	CandidateCount  int             `json:"candidateCount"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig asks the model to emit its reasoning as thought parts.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// Content is one turn in the conversation. Role is "user" or "model";
// the systemInstruction content carries no role at all.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a turn. Exactly one of the payload fields is set;
// ThoughtSignature can ride along with any of them, or stand alone as a
// bare signature part that replays a cached thought signature to the model.
type Part struct {
	Text             *string           `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// InlineData carries base64-encoded media.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is the model asking us to run a tool.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// FunctionResponse feeds a tool's result back to the model. Response is
// always {"result": <string>} on the wire.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
	ID       string          `json:"id,omitempty"`
}

// Tool declares what the model may call. Either FunctionDeclarations or
// GoogleSearch is set, never both.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *GoogleSearch         `json:"googleSearch,omitempty"`
}

// FunctionDeclaration describes a single callable function. Parameters is
// a sanitized JSON schema (see translate.CleanSchema).
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GoogleSearch enables the built-in search tool.
type GoogleSearch struct {
	EnhancedContent *EnhancedContent `json:"enhancedContent,omitempty"`
}

// EnhancedContent tunes what search may attach to its results.
type EnhancedContent struct {
	ImageSearch *ImageSearch `json:"imageSearch,omitempty"`
}

// ImageSearch caps how many images search results may include.
type ImageSearch struct {
	MaxResultCount int `json:"maxResultCount,omitempty"`
}

// SafetySetting sets the blocking threshold for one harm category.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// ---------------------------------------------------------------------------
// Part constructors
// ---------------------------------------------------------------------------

// TextPart returns a plain text part.
func TextPart(text string) Part {
	return Part{Text: &text}
}

// ImagePart returns an inline-data part.
func ImagePart(mimeType, data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: data}}
}

// FunctionCallPart returns a functionCall part, optionally signed.
func FunctionCallPart(fc FunctionCall, signature string) Part {
	return Part{FunctionCall: &fc, ThoughtSignature: signature}
}

// FunctionResponsePart returns a functionResponse part.
func FunctionResponsePart(fr FunctionResponse) Part {
	return Part{FunctionResponse: &fr}
}

// SignaturePart returns a part carrying only a thought signature.
func SignaturePart(signature string) Part {
	return Part{ThoughtSignature: signature}
}

// IsText reports whether the part carries plain (non-thought) text.
func (p Part) IsText() bool {
	return p.Text != nil && !p.Thought
}
