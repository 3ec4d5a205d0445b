// Package stream converts the upstream's chunk stream into Messages API
// SSE events: the per-request state machine, the SSE writer, and the
// collector that folds events back into a complete message for
// non-streaming calls.
package stream

import (
	"encoding/json"

	"github.com/howard-nolan/geminigate/internal/anthropic"
)

// ---------------------------------------------------------------------------
// SSE event types
// ---------------------------------------------------------------------------

// Event is one named SSE event. Data is the payload struct; the writer
// marshals it when the event goes over the wire.
type Event struct {
	Name string
	Data any
}

// JSON marshals the payload. Payload types here can't fail to marshal,
// so errors are swallowed into an empty object.
func (e Event) JSON() []byte {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// The payload shapes below mirror the Messages API streaming format:
//
//	event: content_block_start
//	data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

type messageStartPayload struct {
	Type    string                     `json:"type"`
	Message anthropic.MessagesResponse `json:"message"`
}

type blockStartPayload struct {
	Type         string    `json:"type"`
	Index        int       `json:"index"`
	ContentBlock blockInfo `json:"content_block"`
}

// blockInfo is the content_block object inside content_block_start.
// Text and Thinking are pointers so the starting block renders its empty
// seed field ("text":"" / "thinking":"") but not the other one.
type blockInfo struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	Thinking  *string         `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type blockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type textDelta struct {
	Type string `json:"type"` // "text_delta"
	Text string `json:"text"`
}

type thinkingDelta struct {
	Type     string `json:"type"` // "thinking_delta"
	Thinking string `json:"thinking"`
}

type signatureDelta struct {
	Type      string `json:"type"` // "signature_delta"
	Signature string `json:"signature"`
}

type inputJSONDelta struct {
	Type        string `json:"type"` // "input_json_delta"
	PartialJSON string `json:"partial_json"`
}

type blockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string            `json:"type"`
	Delta messageDeltaInner `json:"delta"`
	Usage outputUsage       `json:"usage"`
}

// outputUsage is the message_delta usage object: output tokens only.
type outputUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type messageDeltaInner struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

func emptyStr() *string {
	s := ""
	return &s
}
