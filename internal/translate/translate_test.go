package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/cmm/internal/anthropic"
	"github.com/modelrelay/cmm/internal/gemini"
)

func TestAnthropicToGemini_StringContentLifted(t *testing.T) {
	req := &anthropic.Request{}
	require.NoError(t, json.Unmarshal([]byte(
		`{"model":"claude-haiku","max_tokens":256,"messages":[{"role":"user","content":"hello"}]}`,
	), req))

	out := AnthropicToGemini(req)
	require.Len(t, out.Contents, 1)
	assert.Equal(t, "user", out.Contents[0].Role)
	require.Len(t, out.Contents[0].Parts, 1)
	assert.Equal(t, "hello", out.Contents[0].Parts[0].Text)
}

func TestAnthropicToGemini_MergesAdjacentSameRole(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-haiku",
		Messages: []anthropic.Message{
			{Role: "user", Content: anthropic.Content{Blocks: []anthropic.Block{{Type: anthropic.BlockText, Text: "a"}}}},
			{Role: "user", Content: anthropic.Content{Blocks: []anthropic.Block{{Type: anthropic.BlockText, Text: "b"}}}},
		},
	}

	out := AnthropicToGemini(req)
	require.Len(t, out.Contents, 1)
	require.Len(t, out.Contents[0].Parts, 2)
	assert.Equal(t, "a", out.Contents[0].Parts[0].Text)
	assert.Equal(t, "b", out.Contents[0].Parts[1].Text)
}

func TestAnthropicToGemini_ToolUseToolResultLinkage(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-haiku",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockToolUse, ID: "tu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
			}}},
			{Role: "user", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockToolResult, ToolUseID: "tu_1", Content: &anthropic.Content{
					Blocks: []anthropic.Block{{Type: anthropic.BlockText, Text: "sunny"}},
				}},
			}}},
		},
	}

	out := AnthropicToGemini(req)
	require.Len(t, out.Contents, 2)

	fc := out.Contents[0].Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "get_weather", fc.Name)

	fr := out.Contents[1].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "get_weather", fr.Name)
	assert.Equal(t, "sunny", fr.Response["result"])
}

func TestAnthropicToGemini_ToolResultJoinsMultipleTextBlocksWithNewline(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-haiku",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockToolUse, ID: "tu_1", Name: "get_weather", Input: json.RawMessage(`{}`)},
			}}},
			{Role: "user", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockToolResult, ToolUseID: "tu_1", Content: &anthropic.Content{
					Blocks: []anthropic.Block{
						{Type: anthropic.BlockText, Text: "a"},
						{Type: anthropic.BlockText, Text: "b"},
					},
				}},
			}}},
		},
	}

	out := AnthropicToGemini(req)
	fr := out.Contents[1].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "a\nb", fr.Response["result"])
}

func TestAnthropicToGemini_UnknownToolResultFallsBackToSentinel(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-haiku",
		Messages: []anthropic.Message{
			{Role: "user", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockToolResult, ToolUseID: "never_seen", Content: &anthropic.Content{
					Blocks: []anthropic.Block{{Type: anthropic.BlockText, Text: "x"}},
				}},
			}}},
		},
	}

	out := AnthropicToGemini(req)
	require.Len(t, out.Contents, 1)
	fr := out.Contents[0].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, unknownToolName, fr.Name)
}

func TestAnthropicToGemini_ThinkingSignatureCarriesToNextFunctionCall(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-haiku",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: anthropic.Content{Blocks: []anthropic.Block{
				{Type: anthropic.BlockThinking, Thinking: "let me think", Signature: "sig123"},
				{Type: anthropic.BlockToolUse, ID: "tu_1", Name: "search", Input: json.RawMessage(`{}`)},
			}}},
		},
	}

	out := AnthropicToGemini(req)
	require.Len(t, out.Contents[0].Parts, 2)
	assert.Equal(t, "sig123", out.Contents[0].Parts[1].ThoughtSignature)
}

func TestAnthropicToGemini_ToolChoiceMapping(t *testing.T) {
	cases := []struct {
		choice *anthropic.ToolChoice
		mode   string
	}{
		{&anthropic.ToolChoice{Type: "none"}, "NONE"},
		{&anthropic.ToolChoice{Type: "any"}, "ANY"},
		{&anthropic.ToolChoice{Type: "tool", Name: "fn"}, "ANY"},
		{&anthropic.ToolChoice{Type: "auto"}, "AUTO"},
		{nil, ""},
	}

	for _, c := range cases {
		req := &anthropic.Request{Model: "m", ToolChoice: c.choice}
		out := AnthropicToGemini(req)
		if c.choice == nil {
			assert.Nil(t, out.ToolConfig)
			continue
		}
		require.NotNil(t, out.ToolConfig)
		assert.Equal(t, c.mode, out.ToolConfig.FunctionCallingConfig.Mode)
	}
}

func TestGeminiResponseToAnthropic_TextOnly(t *testing.T) {
	resp := &gemini.StreamChunk{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: []gemini.Part{{Text: "hi there"}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 3},
	}

	out := GeminiResponseToAnthropic("claude-haiku", resp)
	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.BlockText, out.Content[0].Type)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 10, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
}

func TestGeminiResponseToAnthropic_FunctionCallSetsToolUseStopReason(t *testing.T) {
	resp := &gemini.StreamChunk{
		Candidates: []gemini.Candidate{{
			Content: &gemini.Content{Role: "model", Parts: []gemini.Part{
				{FunctionCall: &gemini.FunctionCall{Name: "search", Args: json.RawMessage(`{}`)}},
			}},
			FinishReason: "STOP",
		}},
	}

	out := GeminiResponseToAnthropic("claude-haiku", resp)
	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.BlockToolUse, out.Content[0].Type)
	assert.Equal(t, "tool_use", out.StopReason)
	assert.NotEmpty(t, out.Content[0].ID)
}

func TestGeminiResponseToAnthropic_ThoughtPartGetsFreshSignature(t *testing.T) {
	resp := &gemini.StreamChunk{
		Candidates: []gemini.Candidate{{
			Content: &gemini.Content{Role: "model", Parts: []gemini.Part{
				{Text: "pondering", Thought: true},
			}},
		}},
	}

	out := GeminiResponseToAnthropic("claude-haiku", resp)
	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.BlockThinking, out.Content[0].Type)
	assert.NotEmpty(t, out.Content[0].Signature)
}

func TestCleanSchema_StripsUnknownKeywordsAndPreservesWhitelist(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"additionalProperties": false,
		"$schema": "http://json-schema.org/draft-07/schema#",
		"properties": {
			"additionalProperties": {"type": "string", "weird_key": 1},
			"name": {"type": "string"}
		},
		"required": ["name"]
	}`)

	cleaned := CleanSchema(raw)

	var m map[string]any
	require.NoError(t, json.Unmarshal(cleaned, &m))

	_, hasAdditional := m["additionalProperties"]
	assert.False(t, hasAdditional)
	_, hasSchema := m["$schema"]
	assert.False(t, hasSchema)

	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)

	// "additionalProperties" as a FIELD NAME inside properties must survive
	// even though it matches a keyword we strip at the top level.
	_, fieldSurvived := props["additionalProperties"]
	assert.True(t, fieldSurvived)

	fieldSchema := props["additionalProperties"].(map[string]any)
	_, weirdKeyStripped := fieldSchema["weird_key"]
	assert.False(t, weirdKeyStripped)
}

func TestCleanSchema_Idempotent(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"x":{"type":"number","bogus":true}}}`)

	once := CleanSchema(raw)
	twice := CleanSchema(once)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(once, &a))
	require.NoError(t, json.Unmarshal(twice, &b))
	assert.Equal(t, a, b)
}

func TestCleanSchema_BoundedRecursionDoesNotPanicOnDeepNesting(t *testing.T) {
	// Build a schema nested well past maxSchemaDepth via "items" chains.
	depth := maxSchemaDepth + 10
	node := map[string]any{"type": "string"}
	for i := 0; i < depth; i++ {
		node = map[string]any{"type": "array", "items": node}
	}
	raw, err := json.Marshal(node)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = CleanSchema(raw)
	})
}
