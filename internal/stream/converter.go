package stream

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/gemini"
	"github.com/howard-nolan/geminigate/internal/signature"
)

// blockType is what kind of content block is currently open.
type blockType int

const (
	blockNone blockType = iota
	blockText
	blockThinking
	blockToolUse
)

// Converter is the per-request state machine turning upstream chunks
// into Messages API events. It tracks which content block is open,
// buffers signatures until the protocol allows emitting them, and
// remembers enough to pick the right stop_reason at the end.
//
// Not safe for concurrent use; each request gets its own Converter.
type Converter struct {
	blockIndex  int
	currentType blockType

	messageStartSent bool
	messageStopSent  bool

	// usedTool forces stop_reason "tool_use" regardless of what finish
	// reason the upstream reports.
	usedTool bool

	// pendingSignature arrived on a thinking chunk; the protocol wants
	// it as a signature_delta right before that block's stop event.
	pendingSignature string

	// trailingSignature arrived on an empty text chunk with no thought
	// flag. It can't attach to any open block, so it is buffered and
	// later emitted as a standalone empty thinking block.
	trailingSignature string

	// hasContent feeds the empty-completion retry check.
	hasContent bool

	signatures *signature.Cache
}

// NewConverter creates a converter that records signatures it sees into
// the given cache (under the tool id for tool calls, and always under
// the "latest" key).
func NewConverter(signatures *signature.Cache) *Converter {
	return &Converter{signatures: signatures}
}

// HasContent reports whether any chunk so far carried content.
func (c *Converter) HasContent() bool { return c.hasContent }

// UsedTool reports whether the stream produced a tool call.
func (c *Converter) UsedTool() bool { return c.usedTool }

// MessageStopSent reports whether the terminal message_stop went out.
func (c *Converter) MessageStopSent() bool { return c.messageStopSent }

// MessageStartSent reports whether MessageStart has been emitted.
func (c *Converter) MessageStartSent() bool { return c.messageStartSent }

// MessageStart builds the opening event and marks it sent.
func (c *Converter) MessageStart(msgID, model string) Event {
	c.messageStartSent = true
	return MessageStartEvent(msgID, model)
}

// MessageStartEvent builds the message_start frame for the given
// message id and requested model.
func MessageStartEvent(msgID, model string) Event {
	return Event{
		Name: "message_start",
		Data: messageStartPayload{
			Type: "message_start",
			Message: anthropic.MessagesResponse{
				ID:      msgID,
				Type:    "message",
				Role:    "assistant",
				Model:   model,
				Content: []anthropic.ContentBlock{},
			},
		},
	}
}

// Process converts one upstream chunk into zero or more events.
// Chunks with no choices produce nothing.
func (c *Converter) Process(chunk *gemini.Chunk) []Event {
	var events []Event

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if !delta.Empty() {
		c.hasContent = true
	}

	sig := delta.Signature()
	if sig != "" {
		c.signatures.Store(signature.Latest, sig)
	}

	switch {
	// Tool calls close whatever is open (draining any buffered trailing
	// signature first) and open a tool_use block.
	case delta.FunctionCall != nil:
		events = append(events, c.drainTrailingSignature()...)
		events = append(events, c.processFunctionCall(delta.FunctionCall, sig)...)

	// An empty text delta carrying only a signature: buffer it. It will
	// surface as a standalone empty thinking block before whatever
	// content comes next (or at finish).
	case delta.Content == "" && !delta.Thought && delta.HasSignature():
		c.trailingSignature = sig

	case delta.Thought:
		events = append(events, c.drainTrailingSignature()...)
		events = append(events, c.processThinking(delta.Content, sig)...)

	case delta.Content != "":
		events = append(events, c.drainTrailingSignature()...)
		if delta.HasSignature() {
			events = append(events, c.processTextWithSignature(delta.Content, sig)...)
		} else {
			events = append(events, c.processText(delta.Content)...)
		}
	}

	if choice.FinishReason != "" {
		events = append(events, c.Finish(choice.FinishReason, chunk.Usage)...)
	}

	return events
}

// processThinking handles a thought delta: close a text block if one is
// open, open a thinking block if none is, and emit the thinking text.
// A signature is held back until the block closes.
func (c *Converter) processThinking(text, sig string) []Event {
	var events []Event

	if c.currentType == blockText {
		events = append(events, c.endBlock()...)
	}
	if c.currentType == blockNone {
		events = append(events, c.startBlock(blockInfo{Type: "thinking", Thinking: emptyStr()}))
		c.currentType = blockThinking
	}
	if text != "" {
		events = append(events, c.delta(thinkingDelta{Type: "thinking_delta", Thinking: text}))
	}
	if sig != "" {
		// Last signature wins if the upstream sends several.
		c.pendingSignature = sig
	}

	return events
}

// processText handles a plain text delta.
func (c *Converter) processText(text string) []Event {
	var events []Event

	if c.currentType == blockThinking {
		events = append(events, c.endBlock()...)
	}
	if c.currentType == blockNone {
		events = append(events, c.startBlock(blockInfo{Type: "text", Text: emptyStr()}))
		c.currentType = blockText
	}
	events = append(events, c.delta(textDelta{Type: "text_delta", Text: text}))

	return events
}

// processTextWithSignature handles the awkward case of text arriving
// with a signature attached. Text blocks can't carry signatures in the
// Messages format, so the text gets its own complete block and the
// signature rides out in a four-event empty thinking block right after.
func (c *Converter) processTextWithSignature(text, sig string) []Event {
	events := c.endBlock()

	events = append(events, c.startBlock(blockInfo{Type: "text", Text: emptyStr()}))
	c.currentType = blockText
	events = append(events, c.delta(textDelta{Type: "text_delta", Text: text}))
	events = append(events, c.endBlock()...)

	if sig != "" {
		events = append(events, c.emptyThinkingBlockWithSignature(sig)...)
	}
	return events
}

// processFunctionCall closes the open block and emits a complete
// tool_use block start plus its full arguments as one input_json_delta.
func (c *Converter) processFunctionCall(fc *gemini.FunctionCall, sig string) []Event {
	events := c.endBlock()

	name := fc.Name
	if name == "" {
		name = "unknown"
	}
	id := fc.ID
	if id == "" {
		// Upstreams don't always assign call ids; synthesize a stable
		// enough one from the name and a uuid fragment.
		id = name + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}

	if sig != "" {
		c.signatures.Store(id, sig)
	}

	args := fc.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	events = append(events, c.startBlock(blockInfo{
		Type:      "tool_use",
		ID:        id,
		Name:      name,
		Input:     json.RawMessage(`{}`),
		Signature: sig,
	}))
	c.currentType = blockToolUse

	argsJSON, err := json.Marshal(json.RawMessage(args))
	if err != nil {
		argsJSON = []byte(`{}`)
	}
	events = append(events, c.delta(inputJSONDelta{Type: "input_json_delta", PartialJSON: string(argsJSON)}))

	c.usedTool = true
	return events
}

// drainTrailingSignature flushes a buffered trailing signature as a
// standalone empty thinking block, closing the open block first.
func (c *Converter) drainTrailingSignature() []Event {
	if c.trailingSignature == "" {
		return nil
	}
	sig := c.trailingSignature
	c.trailingSignature = ""

	events := c.endBlock()
	return append(events, c.emptyThinkingBlockWithSignature(sig)...)
}

// emptyThinkingBlockWithSignature emits the four-event carrier for a
// signature with no thinking text: start, empty thinking_delta,
// signature_delta, stop.
func (c *Converter) emptyThinkingBlockWithSignature(sig string) []Event {
	events := []Event{
		c.startBlock(blockInfo{Type: "thinking", Thinking: emptyStr()}),
		c.delta(thinkingDelta{Type: "thinking_delta", Thinking: ""}),
		c.delta(signatureDelta{Type: "signature_delta", Signature: sig}),
		{Name: "content_block_stop", Data: blockStopPayload{Type: "content_block_stop", Index: c.blockIndex}},
	}
	c.blockIndex++
	return events
}

// endBlock closes the open block, emitting a held thinking signature
// first, and bumps the block index. No-op when nothing is open.
func (c *Converter) endBlock() []Event {
	if c.currentType == blockNone {
		return nil
	}

	var events []Event
	if c.currentType == blockThinking && c.pendingSignature != "" {
		events = append(events, c.delta(signatureDelta{Type: "signature_delta", Signature: c.pendingSignature}))
		c.pendingSignature = ""
	}

	events = append(events, Event{
		Name: "content_block_stop",
		Data: blockStopPayload{Type: "content_block_stop", Index: c.blockIndex},
	})
	c.blockIndex++
	c.currentType = blockNone
	return events
}

// Finish closes out the message: final block stop, buffered trailing
// signature, message_delta with the mapped stop reason, and a single
// message_stop. The pipeline also calls this directly when the upstream
// stream is truncated without a finish reason.
func (c *Converter) Finish(finishReason string, usage *gemini.Usage) []Event {
	events := c.endBlock()
	events = append(events, c.drainTrailingSignature()...)

	stopReason := "end_turn"
	if c.usedTool {
		stopReason = "tool_use"
	} else {
		switch finishReason {
		case "length", "MAX_TOKENS":
			stopReason = "max_tokens"
		case "stop", "STOP":
			stopReason = "end_turn"
		case "tool_calls", "function_call":
			stopReason = "tool_use"
		}
	}

	events = append(events, Event{
		Name: "message_delta",
		Data: messageDeltaPayload{
			Type:  "message_delta",
			Delta: messageDeltaInner{StopReason: stopReason},
			Usage: outputUsage{OutputTokens: usage.OutputTokenCount()},
		},
	})

	if !c.messageStopSent {
		events = append(events, Event{
			Name: "message_stop",
			Data: messageStopPayload{Type: "message_stop"},
		})
		c.messageStopSent = true
	}

	return events
}

func (c *Converter) startBlock(info blockInfo) Event {
	return Event{
		Name: "content_block_start",
		Data: blockStartPayload{Type: "content_block_start", Index: c.blockIndex, ContentBlock: info},
	}
}

func (c *Converter) delta(d any) Event {
	return Event{
		Name: "content_block_delta",
		Data: blockDeltaPayload{Type: "content_block_delta", Index: c.blockIndex, Delta: d},
	}
}
