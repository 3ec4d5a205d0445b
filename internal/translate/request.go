package translate

import (
	"encoding/json"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/gemini"
	"github.com/howard-nolan/geminigate/internal/signature"
)

// Translator converts Messages API requests into upstream request
// bodies. The signature cache restores thought signatures that clients
// didn't echo back.
type Translator struct {
	signatures *signature.Cache
}

// NewTranslator creates a translator backed by the given cache.
func NewTranslator(signatures *signature.Cache) *Translator {
	return &Translator{signatures: signatures}
}

// Translate builds the complete upstream request for a mapped model.
func (t *Translator) Translate(req *anthropic.MessagesRequest, mappedModel string) *gemini.Request {
	out := &gemini.Request{
		Contents:         t.convertMessages(req.Messages),
		Tools:            ConvertTools(req.Tools),
		GenerationConfig: BuildGenerationConfig(req, mappedModel),
		SafetySettings:   BuildSafetySettings(),
	}
	if req.System != "" {
		out.SystemInstruction = &gemini.Content{
			Parts: []gemini.Part{gemini.TextPart(string(req.System))},
		}
	}
	return out
}

// convertMessages maps each turn's blocks to upstream parts, then merges
// consecutive same-role turns (the upstream rejects back-to-back turns
// with the same role).
func (t *Translator) convertMessages(messages []anthropic.Message) []gemini.Content {
	// tool_use ids map to tool names so tool_result parts can name the
	// function they answer. Collected up front: results may appear in a
	// later message than their call.
	idToName := make(map[string]string)
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "tool_use" && block.ID != "" {
				idToName[block.ID] = block.Name
			}
		}
	}

	var contents []gemini.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		var parts []gemini.Part
		for _, block := range msg.Content {
			if part, ok := t.convertBlock(block, idToName); ok {
				parts = append(parts, part)
			}
		}

		// Model turns replay the latest cached signature so the upstream
		// can resume its reasoning chain.
		if role == "model" {
			if sig, ok := t.signatures.GetLatest(); ok {
				parts = append(parts, gemini.SignaturePart(sig))
			}
		}

		// A turn whose blocks were all dropped still needs a part.
		if len(parts) == 0 {
			parts = append(parts, gemini.TextPart(""))
		}

		contents = append(contents, gemini.Content{Role: role, Parts: parts})
	}

	return mergeConsecutiveRoles(contents)
}

// convertBlock maps one content block to an upstream part. The second
// return is false for blocks that don't cross the boundary (thinking
// input is dropped: the upstream rejects thought parts in requests).
func (t *Translator) convertBlock(block anthropic.ContentBlock, idToName map[string]string) (gemini.Part, bool) {
	switch block.Type {
	case "text":
		return gemini.TextPart(block.Text), true

	case "image":
		if block.Source == nil || block.Source.Type != "base64" {
			return gemini.Part{}, false
		}
		return gemini.ImagePart(block.Source.MediaType, block.Source.Data), true

	case "thinking":
		return gemini.Part{}, false

	case "tool_use":
		// Inline signature beats the cached one.
		sig := block.Signature
		if sig == "" {
			sig, _ = t.signatures.Get(block.ID)
		}
		args := block.Input
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return gemini.FunctionCallPart(gemini.FunctionCall{
			Name: block.Name,
			Args: args,
			ID:   block.ID,
		}, sig), true

	case "tool_result":
		name, ok := idToName[block.ToolUseID]
		if !ok {
			name = block.ToolUseID
		}
		result, _ := json.Marshal(map[string]string{"result": flattenToolResult(block.Content)})
		return gemini.FunctionResponsePart(gemini.FunctionResponse{
			Name:     name,
			Response: result,
			ID:       block.ToolUseID,
		}), true

	default:
		return gemini.Part{}, false
	}
}

// flattenToolResult renders a tool result as a single string: text blocks
// joined by newlines, anything else serialized as JSON.
func flattenToolResult(content *anthropic.ToolResultContent) string {
	if content == nil {
		return ""
	}
	if len(content.Blocks) == 0 {
		return content.Text
	}
	out := ""
	for i, b := range content.Blocks {
		if i > 0 {
			out += "\n"
		}
		if b.Type == "text" {
			out += b.Text
		} else if raw, err := json.Marshal(b); err == nil {
			out += string(raw)
		}
	}
	return out
}

// mergeConsecutiveRoles folds runs of same-role turns into one turn.
// When two user turns meet at a text/text boundary, a blank-line
// separator keeps the texts from running together.
func mergeConsecutiveRoles(contents []gemini.Content) []gemini.Content {
	if len(contents) == 0 {
		return contents
	}

	merged := contents[:1]
	for _, c := range contents[1:] {
		last := &merged[len(merged)-1]
		if c.Role != last.Role {
			merged = append(merged, c)
			continue
		}

		if last.Role == "user" && len(last.Parts) > 0 && len(c.Parts) > 0 &&
			last.Parts[len(last.Parts)-1].IsText() && c.Parts[0].IsText() {
			last.Parts = append(last.Parts, gemini.TextPart("\n\n"))
		}
		last.Parts = append(last.Parts, c.Parts...)
	}
	return merged
}

// ConvertTools maps client tool declarations to upstream tools. A
// web_search declaration replaces everything with the built-in search
// tool; otherwise each schema-bearing tool becomes a function
// declaration with a sanitized schema.
func ConvertTools(tools []anthropic.Tool) []gemini.Tool {
	if len(tools) == 0 {
		return nil
	}

	if HasWebSearch(tools) {
		return []gemini.Tool{{
			GoogleSearch: &gemini.GoogleSearch{
				EnhancedContent: &gemini.EnhancedContent{
					ImageSearch: &gemini.ImageSearch{MaxResultCount: 5},
				},
			},
		}}
	}

	var decls []gemini.FunctionDeclaration
	for _, tool := range tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  CleanSchema(tool.InputSchema),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []gemini.Tool{{FunctionDeclarations: decls}}
}
