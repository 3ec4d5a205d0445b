// Package anthropic defines the client-facing wire types for the Messages
// API: the request shape clients POST to /v1/messages and the response /
// event payloads we send back.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Request types
// ---------------------------------------------------------------------------

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        System          `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
}

// Thinking enables extended thinking for the request.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// Tool is a client-declared tool. InputSchema is kept raw: it is an
// arbitrary JSON schema that the sanitizer rewrites key by key.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one conversation turn. The API accepts content as either a
// bare string or an array of blocks; a string decodes as a single text
// block so the rest of the code only ever sees blocks.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON handles the string-or-array content field.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role

	if len(raw.Content) == 0 {
		m.Content = nil
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []ContentBlock{{Type: "text", Text: text}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("message content must be a string or block array: %w", err)
	}
	m.Content = blocks
	return nil
}

// ContentBlock is one block of message content. It is a single struct
// covering every block type; Type says which fields are meaningful:
//
//	text        -> Text
//	thinking    -> Thinking, Signature
//	image       -> Source
//	tool_use    -> ID, Name, Input, Signature
//	tool_result -> ToolUseID, Content, IsError
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	Source *ImageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`
}

// ImageSource is the payload of an image block.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolResultContent is the content of a tool_result block: either a bare
// string or an array of result blocks.
type ToolResultContent struct {
	Text   string
	Blocks []ToolResultBlock
	isText bool
}

// ToolResultBlock is one element of an array-form tool result.
type ToolResultBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// UnmarshalJSON accepts both the string form and the array form.
func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	var blocks []ToolResultBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("tool_result content must be a string or block array: %w", err)
	}
	c.Blocks = blocks
	c.isText = false
	return nil
}

// MarshalJSON round-trips whichever form was decoded.
func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// System is the top-level system prompt: a bare string or an array of
// text blocks, flattened to one string with newline separators.
type System string

// UnmarshalJSON flattens both accepted forms into the string.
func (s *System) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = System(str)
		return nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or block array: %w", err)
	}
	joined := ""
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if joined != "" {
			joined += "\n"
		}
		joined += b.Text
	}
	*s = System(joined)
	return nil
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

// MessagesResponse is the non-streaming response body, and also the
// "message" object inside the message_start stream event.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // always "message"
	Role         string         `json:"role"` // always "assistant"
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage carries token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the Anthropic-style error body.
type ErrorResponse struct {
	Type  string      `json:"type"` // always "error"
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner error object.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an error body with the given type and message.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: ErrorDetail{Type: errType, Message: message}}
}
