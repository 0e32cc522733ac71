// Package gemini defines the wire types exchanged with the upstream
// Gemini-compatible endpoint (internal/geminiclient), grounded on the
// teacher's internal/provider/google.go geminiRequest/geminiResponse
// shapes and extended with the fields a chat-completions-only client
// never needed: systemInstruction, tools, toolConfig, thinkingConfig,
// and the thought/thoughtSignature part fields.
package gemini

import "encoding/json"

// Request is the body posted to generateContent / streamGenerateContent.
type Request struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`

	// Model is not part of the Gemini wire contract in all deployments
	// (some put it in the URL path instead), but is always populated
	// here so the wrapping policy in internal/geminiclient can stamp it
	// either into the body or the URL.
	Model string `json:"model,omitempty"`
}

// SystemInstruction holds the system prompt as Gemini parts.
type SystemInstruction struct {
	Parts []Part `json:"parts"`
}

// Content is one turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" | "model"
	Parts []Part `json:"parts"`
}

// Part is a tagged union of the four part kinds this gateway produces
// or consumes. Only one of Text/FunctionCall/FunctionResponse/InlineData
// is non-nil/non-empty at a time.
type Part struct {
	Text            string           `json:"text,omitempty"`
	Thought         bool             `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	FunctionCall    *FunctionCall    `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData      *InlineData      `json:"inlineData,omitempty"`
}

// FunctionCall is a model-issued tool invocation.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse carries a tool's result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// InlineData is a base64-encoded media blob.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Tool wraps a set of function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolConfig constrains function-calling behavior.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

type FunctionCallingConfig struct {
	Mode                 string   `json:"mode"` // AUTO | ANY | NONE
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// GenerationConfig mirrors Anthropic's sampling/length knobs.
type GenerationConfig struct {
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

type ThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

// StreamChunk is one SSE data payload from the upstream stream, and also
// the shape of the unary (non-streaming) response body.
type StreamChunk struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	Error         *UpstreamError `json:"error,omitempty"`
}

// Candidate is one generated response variant; this gateway only ever
// reads index 0.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
	Index        int      `json:"index,omitempty"`
}

// UsageMetadata mirrors Gemini's token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

// UpstreamError is Gemini's inline error shape, distinct from a non-2xx
// HTTP status — some deployments report errors this way inside an
// otherwise-200 stream.
type UpstreamError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// WrappedRequest is the optional envelope some compatibility-proxy
// deployments require (spec.md §4.4/§9). Wrapping is opt-in via
// config.Upstream.WrapRequest.
type WrappedRequest struct {
	Model         string  `json:"model"`
	Project       string  `json:"project,omitempty"`
	UserPromptID  string  `json:"user_prompt_id,omitempty"`
	Request       Request `json:"request"`
}

// WrappedResponse is the optional envelope unwrapped on the way back,
// opt-in via config.Upstream.UnwrapResponse.
type WrappedResponse struct {
	Response StreamChunk `json:"response"`
	TraceID  string      `json:"traceId,omitempty"`
}
