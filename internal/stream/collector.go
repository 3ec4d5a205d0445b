package stream

import (
	"encoding/json"

	"github.com/howard-nolan/geminigate/internal/anthropic"
)

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collector folds a sequence of streaming events back into a complete
// MessagesResponse. Non-streaming requests run the same converter as
// streaming ones and collect the events instead of writing them out, so
// both paths share one set of translation rules.
type Collector struct {
	resp anthropic.MessagesResponse

	// partialJSON accumulates input_json_delta fragments per block index
	// until the block closes.
	partialJSON map[int]string
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{partialJSON: make(map[int]string)}
}

// Add folds one event into the response under construction.
func (c *Collector) Add(e Event) {
	switch p := e.Data.(type) {
	case messageStartPayload:
		c.resp = p.Message

	case blockStartPayload:
		block := anthropic.ContentBlock{Type: p.ContentBlock.Type}
		switch p.ContentBlock.Type {
		case "tool_use":
			block.ID = p.ContentBlock.ID
			block.Name = p.ContentBlock.Name
			block.Signature = p.ContentBlock.Signature
		}
		c.resp.Content = append(c.resp.Content, block)

	case blockDeltaPayload:
		if len(c.resp.Content) == 0 {
			return
		}
		block := &c.resp.Content[len(c.resp.Content)-1]
		switch d := p.Delta.(type) {
		case textDelta:
			block.Text += d.Text
		case thinkingDelta:
			block.Thinking += d.Thinking
		case signatureDelta:
			block.Signature = d.Signature
		case inputJSONDelta:
			c.partialJSON[p.Index] += d.PartialJSON
		}

	case blockStopPayload:
		if raw, ok := c.partialJSON[p.Index]; ok {
			if len(c.resp.Content) > 0 {
				c.resp.Content[len(c.resp.Content)-1].Input = json.RawMessage(raw)
			}
			delete(c.partialJSON, p.Index)
		}

	case messageDeltaPayload:
		reason := p.Delta.StopReason
		c.resp.StopReason = &reason
		c.resp.Usage.OutputTokens = p.Usage.OutputTokens
	}
}

// AddAll folds a batch of events in order.
func (c *Collector) AddAll(events []Event) {
	for _, e := range events {
		c.Add(e)
	}
}

// Response returns the assembled message. Blocks that never received
// content keep their zero values; tool_use inputs that never closed
// default to an empty object.
func (c *Collector) Response() *anthropic.MessagesResponse {
	resp := c.resp
	for i := range resp.Content {
		if resp.Content[i].Type == "tool_use" && len(resp.Content[i].Input) == 0 {
			resp.Content[i].Input = json.RawMessage(`{}`)
		}
	}
	if resp.Content == nil {
		resp.Content = []anthropic.ContentBlock{}
	}
	return &resp
}
