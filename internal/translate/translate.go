// Package translate implements the Message Translator (component C1):
// pure, stateless conversion between the Anthropic Messages wire shape
// and the upstream Gemini shape, in both directions. It is grounded on
// two shapes from the example pack: the content-block walking and role
// mapping in other_examples' seifghazi-claude-code-proxy gemini.go
// (convertAnthropicToGemini / convertGeminiToAnthropicResponse), and the
// tool_use/functionCall pairing plus stop-reason mapping table in
// Olijve-CV-ai_gateway's gemini_to_anthropic.go, reworked here into the
// teacher's single-pass-over-messages, one-exported-constructor style
// (see the teacher's internal/provider/google.go toGeminiRequest).
package translate

import (
	"encoding/json"
	"strings"

	"github.com/modelrelay/cmm/internal/anthropic"
	"github.com/modelrelay/cmm/internal/gemini"
	"github.com/modelrelay/cmm/internal/ids"
)

// unknownToolName is substituted for a tool_result block whose
// tool_use_id has no matching tool_use in the conversation so far
// (spec.md §4.1 edge case).
const unknownToolName = "unknown_tool"

// maxSchemaDepth bounds CleanSchema's recursion (spec.md §4.1).
const maxSchemaDepth = 32

// AnthropicToGemini converts a full Anthropic request into the Gemini
// request shape, merging adjacent same-role turns and carrying tool
// linkage across the message list.
func AnthropicToGemini(req *anthropic.Request) *gemini.Request {
	out := &gemini.Request{Model: req.Model}

	if sys := systemInstruction(req.System); sys != nil {
		out.SystemInstruction = sys
	}

	toolNames := map[string]string{} // tool_use id -> name, for tool_result pairing
	var pendingSignature string      // carried from a thinking block to the next functionCall

	for _, msg := range req.Messages {
		role := anthropicRoleToGemini(msg.Role)

		var parts []gemini.Part
		for _, block := range msg.Content.Blocks {
			switch block.Type {
			case anthropic.BlockText:
				parts = append(parts, gemini.Part{Text: block.Text})

			case anthropic.BlockThinking:
				pendingSignature = block.Signature
				parts = append(parts, gemini.Part{
					Text:             block.Thinking,
					Thought:          true,
					ThoughtSignature: block.Signature,
				})

			case anthropic.BlockToolUse:
				toolNames[block.ID] = block.Name
				p := gemini.Part{
					FunctionCall: &gemini.FunctionCall{
						Name: block.Name,
						Args: block.Input,
					},
				}
				if pendingSignature != "" {
					p.ThoughtSignature = pendingSignature
					pendingSignature = ""
				}
				parts = append(parts, p)

			case anthropic.BlockToolResult:
				name := toolNames[block.ToolUseID]
				if name == "" {
					name = unknownToolName
				}
				parts = append(parts, gemini.Part{
					FunctionResponse: &gemini.FunctionResponse{
						Name:     name,
						Response: toolResultResponse(block),
					},
				})

			case anthropic.BlockImage:
				if block.Source != nil {
					parts = append(parts, gemini.Part{
						InlineData: &gemini.InlineData{
							MimeType: block.Source.MediaType,
							Data:     block.Source.Data,
						},
					})
				}

			default:
				// Unknown block types are skipped silently per spec.md §4.1.
			}
		}

		if len(parts) == 0 {
			continue
		}

		if n := len(out.Contents); n > 0 && out.Contents[n-1].Role == role {
			out.Contents[n-1].Parts = append(out.Contents[n-1].Parts, parts...)
			continue
		}
		out.Contents = append(out.Contents, gemini.Content{Role: role, Parts: parts})
	}

	if len(req.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  CleanSchema(t.InputSchema),
			})
		}
		out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
	}

	if tc := toolConfig(req.ToolChoice); tc != nil {
		out.ToolConfig = tc
	}

	out.GenerationConfig = generationConfig(req)

	return out
}

func systemInstruction(sys anthropic.SystemField) *gemini.SystemInstruction {
	if len(sys.Blocks) == 0 {
		return nil
	}
	parts := make([]gemini.Part, 0, len(sys.Blocks))
	for _, b := range sys.Blocks {
		if b.Type == anthropic.BlockText {
			parts = append(parts, gemini.Part{Text: b.Text})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &gemini.SystemInstruction{Parts: parts}
}

func anthropicRoleToGemini(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// toolResultResponse normalizes a tool_result block's content (string,
// block array, or error) into Gemini's free-form response map.
func toolResultResponse(block anthropic.Block) map[string]any {
	var texts []string
	if block.Content != nil {
		for _, b := range block.Content.Blocks {
			if b.Type == anthropic.BlockText {
				texts = append(texts, b.Text)
			}
		}
	}
	text := strings.Join(texts, "\n")
	if block.IsError {
		return map[string]any{"error": text}
	}
	return map[string]any{"result": text}
}

func toolConfig(tc *anthropic.ToolChoice) *gemini.ToolConfig {
	if tc == nil {
		return nil
	}
	switch tc.Type {
	case "none":
		return &gemini.ToolConfig{FunctionCallingConfig: gemini.FunctionCallingConfig{Mode: "NONE"}}
	case "any":
		return &gemini.ToolConfig{FunctionCallingConfig: gemini.FunctionCallingConfig{Mode: "ANY"}}
	case "tool":
		return &gemini.ToolConfig{FunctionCallingConfig: gemini.FunctionCallingConfig{
			Mode:                 "ANY",
			AllowedFunctionNames: []string{tc.Name},
		}}
	default:
		return &gemini.ToolConfig{FunctionCallingConfig: gemini.FunctionCallingConfig{Mode: "AUTO"}}
	}
}

func generationConfig(req *anthropic.Request) *gemini.GenerationConfig {
	gc := &gemini.GenerationConfig{}
	hasAny := false

	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = &req.MaxTokens
		hasAny = true
	}
	if req.Temperature != nil {
		gc.Temperature = req.Temperature
		hasAny = true
	}
	if req.TopP != nil {
		gc.TopP = req.TopP
		hasAny = true
	}
	if req.TopK != nil {
		gc.TopK = req.TopK
		hasAny = true
	}
	if len(req.StopSequences) > 0 {
		gc.StopSequences = req.StopSequences
		hasAny = true
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		gc.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: req.Thinking.BudgetTokens}
		hasAny = true
	}

	if !hasAny {
		return nil
	}
	return gc
}

// stopReasonByFinish maps a Gemini finishReason to an Anthropic
// stop_reason. GeminiResponseToAnthropic consults it (through
// finishReasonToStopReason) only when the response has no functionCall;
// any functionCall forces "tool_use".
var stopReasonByFinish = map[string]string{
	"STOP":           "end_turn",
	"MAX_TOKENS":     "max_tokens",
	"SAFETY":         "end_turn",
	"RECITATION":     "end_turn",
	"OTHER":          "end_turn",
	"FINISH_UNSPECIFIED": "end_turn",
}

// GeminiResponseToAnthropic converts one complete (non-streaming)
// Gemini response into an Anthropic Response envelope.
func GeminiResponseToAnthropic(model string, resp *gemini.StreamChunk) *anthropic.Response {
	out := &anthropic.Response{
		ID:    ids.NewMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: model,
	}

	var hasFunctionCall bool
	var pendingSignature string

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				hasFunctionCall = true
				b := anthropic.Block{
					Type:  anthropic.BlockToolUse,
					ID:    ids.NewToolUseID(),
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				}
				out.Content = append(out.Content, b)

			case part.Thought && part.Text != "":
				pendingSignature = ids.NewSignature()
				out.Content = append(out.Content, anthropic.Block{
					Type:      anthropic.BlockThinking,
					Thinking:  part.Text,
					Signature: pendingSignature,
				})

			case part.Text != "":
				out.Content = append(out.Content, anthropic.Block{
					Type: anthropic.BlockText,
					Text: part.Text,
				})
			}
		}
	}

	if hasFunctionCall {
		out.StopReason = "tool_use"
	} else if len(resp.Candidates) > 0 {
		out.StopReason = finishReasonToStopReason(resp.Candidates[0].FinishReason)
	} else {
		out.StopReason = "end_turn"
	}

	if resp.UsageMetadata != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return out
}

func finishReasonToStopReason(finish string) string {
	if finish == "" {
		return "end_turn"
	}
	if mapped, ok := stopReasonByFinish[finish]; ok {
		return mapped
	}
	return "end_turn"
}

// schemaKeys is the whitelist of JSON-Schema keywords this gateway
// preserves when cleaning a client-declared tool schema for Gemini,
// which rejects unrecognized keywords (spec.md §4.1).
var schemaKeys = map[string]bool{
	"type": true, "description": true, "properties": true, "required": true,
	"items": true, "enum": true, "format": true, "nullable": true,
	"minimum": true, "maximum": true, "minItems": true, "maxItems": true,
	"minLength": true, "maxLength": true, "pattern": true, "default": true,
	"example": true, "title": true, "anyOf": true, "oneOf": true,
}

// CleanSchema strips JSON-Schema keywords Gemini doesn't accept,
// recursing into "properties", "items", "anyOf", and "oneOf" up to
// maxSchemaDepth levels. Keys nested inside a schema's "properties" map
// are field names, not keywords, and are preserved unchanged regardless
// of whitelist membership. CleanSchema is idempotent: re-cleaning
// already-clean output is a no-op.
func CleanSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := cleanSchemaValue(v, 0)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func cleanSchemaValue(v any, depth int) any {
	if depth >= maxSchemaDepth {
		return v
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := map[string]any{}
	for k, val := range m {
		if !schemaKeys[k] {
			continue
		}
		switch k {
		case "properties":
			props, ok := val.(map[string]any)
			if !ok {
				continue
			}
			cleanedProps := map[string]any{}
			for fieldName, fieldSchema := range props {
				cleanedProps[fieldName] = cleanSchemaValue(fieldSchema, depth+1)
			}
			out[k] = cleanedProps

		case "items":
			out[k] = cleanSchemaValue(val, depth+1)

		case "anyOf", "oneOf":
			list, ok := val.([]any)
			if !ok {
				out[k] = val
				continue
			}
			cleanedList := make([]any, len(list))
			for i, item := range list {
				cleanedList[i] = cleanSchemaValue(item, depth+1)
			}
			out[k] = cleanedList

		default:
			out[k] = val
		}
	}
	return out
}
