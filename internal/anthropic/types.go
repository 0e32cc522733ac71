// Package anthropic defines the wire types for the Anthropic Messages API
// that this gateway speaks to its downstream client. Both the intercept
// and passthrough paths are described in terms of these structs: the
// intercept path decodes into them and the translator converts to/from
// Gemini's shapes (internal/gemini), while the passthrough path forwards
// the original body bytes and uses Request only to read the routing
// fields (model, stream) and to build the thinking-stripped body for its
// one-shot signature retry.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Request is the top-level body of POST /v1/messages.
type Request struct {
	Model         string         `json:"model"`
	MaxTokens     int            `json:"max_tokens"`
	Messages      []Message      `json:"messages"`
	System        SystemField    `json:"system,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Thinking      *ThinkingField `json:"thinking,omitempty"`
}

// ThinkingField is the request-side "thinking" toggle, distinct from the
// thinking content Block below.
type ThinkingField struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Message is one turn in the conversation. Content can be a bare string
// or a block array on the wire; Content's UnmarshalJSON/MarshalJSON
// normalize this the same way the spec's data model does.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content holds the normalized block list for a message, regardless of
// whether the wire form was a string or an array.
type Content struct {
	Blocks []Block
}

// UnmarshalJSON accepts either a JSON string (lifted to a single text
// block, per spec.md §4.1) or a JSON array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "" {
			c.Blocks = []Block{{Type: BlockText, Text: asString}}
		}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}

	blocks := make([]Block, 0, len(raw))
	for _, item := range raw {
		var b Block
		if err := json.Unmarshal(item, &b); err != nil {
			return fmt.Errorf("decoding content block: %w", err)
		}
		blocks = append(blocks, b)
	}
	c.Blocks = blocks
	return nil
}

// MarshalJSON always emits the array form — the gateway never needs to
// echo the string shorthand back out.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// BlockType enumerates the tagged content block variants from spec.md §3.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// Block is a tagged-union content block. Only the fields relevant to
// Type are populated; everything else is the zero value. Unknown types
// decode successfully (Type holds whatever string was on the wire) so
// the translator's "skip unknown silently" policy (spec.md §4.1) has
// something to match on.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string   `json:"tool_use_id,omitempty"`
	Content   *Content `json:"content,omitempty"`
	IsError   bool     `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource describes a base64-encoded inline image.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data"`
}

// SystemField holds the request's "system" field, which can be a bare
// string or an array of text blocks on the wire.
type SystemField struct {
	Blocks []Block
}

func (s *SystemField) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "" {
			s.Blocks = []Block{{Type: BlockText, Text: asString}}
		}
		return nil
	}

	var raw []Block
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("system must be a string or an array of blocks: %w", err)
	}
	s.Blocks = raw
	return nil
}

func (s SystemField) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(s.Blocks)
}

// Tool is a client-declared function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice controls function-calling mode. Exactly one of Type == "none",
// "any", "auto", or "tool" (with Name set) per spec.md §4.1.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Response is the non-streaming response envelope.
type Response struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"` // "message"
	Role         string  `json:"role"` // "assistant"
	Content      []Block `json:"content"`
	Model        string  `json:"model"`
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        Usage   `json:"usage"`
}

// Usage mirrors the Anthropic input_tokens/output_tokens accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorType enumerates the client-facing error taxonomy from spec.md §7.
type ErrorType string

const (
	ErrAPIError            ErrorType = "api_error"
	ErrRateLimit           ErrorType = "rate_limit_error"
	ErrAuthentication      ErrorType = "authentication_error"
)

// ErrorEnvelope is the JSON body written to the client on any failure,
// whether mid-response (unary JSON error) or as an `error` SSE event.
type ErrorEnvelope struct {
	Type  string     `json:"type"` // "error"
	Error ErrorBody  `json:"error"`
}

type ErrorBody struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// NewErrorEnvelope builds the standard error body.
func NewErrorEnvelope(t ErrorType, message string) ErrorEnvelope {
	return ErrorEnvelope{
		Type: "error",
		Error: ErrorBody{
			Type:    t,
			Message: message,
		},
	}
}
