package anthropic

// Event names for the SSE taxonomy in spec.md §6. The Stream Translator
// (internal/streamtranslate) produces these; the gateway writes each as
// "event: <Name>\ndata: <json>\n\n".
const (
	EventMessageStart      = "message_start"
	EventPing              = "ping"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// DeltaType enumerates the content_block_delta payload shapes.
const (
	DeltaText        = "text_delta"
	DeltaThinking    = "thinking_delta"
	DeltaSignature   = "signature_delta"
	DeltaInputJSON   = "input_json_delta"
)

// Frame is one SSE event ready to be written to the client: the event
// name plus its already-marshaled JSON payload.
type Frame struct {
	Event string
	Data  []byte
}

// MessageStartPayload is the data of a message_start event.
type MessageStartPayload struct {
	Type    string          `json:"type"`
	Message MessageStartMsg `json:"message"`
}

type MessageStartMsg struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"` // "message"
	Role         string  `json:"role"` // "assistant"
	Content      []Block `json:"content"`
	Model        string  `json:"model"`
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        Usage   `json:"usage"`
}

// PingPayload is the (empty-ish) data of a ping event.
type PingPayload struct {
	Type string `json:"type"`
}

// ContentBlockStartPayload announces a new block at Index.
type ContentBlockStartPayload struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock ContentBlockInit `json:"content_block"`
}

// ContentBlockInit is the initial (usually empty) shape of a new block.
type ContentBlockInit struct {
	Type  BlockType       `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input map[string]any  `json:"input,omitempty"`
}

// ContentBlockDeltaPayload carries one incremental update to block Index.
type ContentBlockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// Delta is a tagged union over the four delta kinds in spec.md §6.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopPayload closes block Index.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaPayload carries the terminal stop_reason/usage update.
type MessageDeltaPayload struct {
	Type  string             `json:"type"`
	Delta MessageDeltaFields `json:"delta"`
	Usage MessageDeltaUsage  `json:"usage"`
}

type MessageDeltaFields struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopPayload is the terminal event of a stream.
type MessageStopPayload struct {
	Type string `json:"type"`
}
