// Package streamtranslate implements the Stream Translator (component
// C2): a stateful per-request object that converts a sequence of Gemini
// stream chunks into the Anthropic SSE event sequence, preserving the
// block-lifecycle discipline (spec.md §4.2/§8 property 7): at most one
// open content block at a time, indices strictly increasing, exactly one
// message_start first and one message_stop last.
//
// Grounded on the teacher's internal/stream/stream.go goroutine, which
// holds the equivalent small piece of per-connection state (the
// in-flight block type) across successive reads; here that state is
// pulled out into an explicit struct so it can be driven by the SSE
// Framer's parsed chunks instead of a raw byte scanner.
package streamtranslate

import (
	"encoding/json"

	"github.com/modelrelay/cmm/internal/anthropic"
	"github.com/modelrelay/cmm/internal/gemini"
	"github.com/modelrelay/cmm/internal/ids"
)

// blockKind enumerates the content block currently open on the wire.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// stopReasonByFinish mirrors the same Gemini finishReason taxonomy the
// unary translator uses (internal/translate), duplicated here rather
// than imported to keep this package's only dependency on translate-ish
// logic self-contained within the streaming state machine it belongs to.
var stopReasonByFinish = map[string]string{
	"STOP":               "end_turn",
	"MAX_TOKENS":         "max_tokens",
	"SAFETY":             "end_turn",
	"RECITATION":         "end_turn",
	"OTHER":              "end_turn",
	"FINISH_UNSPECIFIED": "end_turn",
}

// Translator holds the per-connection state for one streaming request.
// It is not safe for concurrent use — geminiclient's Stream drives
// exactly one goroutine's worth of chunks through it in order.
type Translator struct {
	messageID string
	model     string

	started bool
	done    bool

	blockIndex     int
	anyBlockOpened bool
	activeBlock    blockKind

	hasFunctionCall bool
	finishReason    string

	inputTokens  int
	outputTokens int
}

// New starts a translator for one response to model.
func New(model string) *Translator {
	return &Translator{
		messageID: ids.NewMessageID(),
		model:     model,
	}
}

// ProcessChunk consumes one parsed Gemini stream chunk and returns the
// Anthropic SSE frames it produces, in wire order. It may return zero,
// one, or several frames for a single chunk (e.g. a block-switch closes
// the old block and opens the new one in the same call).
func (t *Translator) ProcessChunk(chunk *gemini.StreamChunk) []anthropic.Frame {
	if t.done {
		return nil
	}

	var frames []anthropic.Frame

	if !t.started {
		frames = append(frames, t.prelude())
		frames = append(frames, frame(anthropic.EventPing, anthropic.PingPayload{Type: "ping"}))
		t.started = true
	}

	if chunk.Error != nil {
		frames = append(frames, t.closeActiveBlock()...)
		frames = append(frames, frame(anthropic.EventError, anthropic.NewErrorEnvelope(
			anthropic.ErrAPIError, chunk.Error.Message,
		)))
		t.done = true
		return frames
	}

	if chunk.UsageMetadata != nil {
		t.inputTokens = chunk.UsageMetadata.PromptTokenCount
		t.outputTokens = chunk.UsageMetadata.CandidatesTokenCount
	}

	if len(chunk.Candidates) > 0 {
		cand := chunk.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				frames = append(frames, t.processPart(part)...)
			}
		}
		if cand.FinishReason != "" {
			t.finishReason = cand.FinishReason
		}
	}

	if t.finishReason != "" {
		frames = append(frames, t.finish()...)
		t.done = true
	}

	return frames
}

// Flush forces a terminal message_delta/message_stop pair if the
// upstream connection closed without ever sending a finishReason — a
// defensive close so the client always sees a well-formed stream.
func (t *Translator) Flush() []anthropic.Frame {
	if t.done || !t.started {
		return nil
	}
	frames := t.finish()
	t.done = true
	return frames
}

func (t *Translator) prelude() anthropic.Frame {
	return frame(anthropic.EventMessageStart, anthropic.MessageStartPayload{
		Type: "message_start",
		Message: anthropic.MessageStartMsg{
			ID:      t.messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []anthropic.Block{},
			Model:   t.model,
			Usage:   anthropic.Usage{InputTokens: t.inputTokens},
		},
	})
}

func (t *Translator) processPart(part gemini.Part) []anthropic.Frame {
	switch {
	case part.FunctionCall != nil:
		return t.emitToolUse(part)
	case part.Thought && part.Text != "":
		return t.emitThinking(part)
	case part.Text != "":
		return t.emitText(part)
	default:
		return nil
	}
}

// emitToolUse closes whatever block is open, then emits a complete
// tool_use block (start, input delta, stop) in one shot — Gemini
// delivers a functionCall as a single atomic part, never incrementally.
func (t *Translator) emitToolUse(part gemini.Part) []anthropic.Frame {
	t.hasFunctionCall = true
	var frames []anthropic.Frame
	frames = append(frames, t.closeActiveBlock()...)

	index := t.nextIndex()
	toolUseID := ids.NewToolUseID()

	frames = append(frames, frame(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
		Type:  "content_block_start",
		Index: index,
		ContentBlock: anthropic.ContentBlockInit{
			Type: anthropic.BlockToolUse,
			ID:   toolUseID,
			Name: part.FunctionCall.Name,
		},
	}))

	args := part.FunctionCall.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	frames = append(frames, frame(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: index,
		Delta: anthropic.Delta{Type: anthropic.DeltaInputJSON, PartialJSON: string(args)},
	}))

	frames = append(frames, frame(anthropic.EventContentBlockStop, anthropic.ContentBlockStopPayload{
		Type: "content_block_stop", Index: index,
	}))
	t.activeBlock = blockNone
	return frames
}

func (t *Translator) emitThinking(part gemini.Part) []anthropic.Frame {
	var frames []anthropic.Frame
	if t.activeBlock != blockThinking {
		frames = append(frames, t.closeActiveBlock()...)
		index := t.nextIndex()
		frames = append(frames, frame(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
			Type:  "content_block_start",
			Index: index,
			ContentBlock: anthropic.ContentBlockInit{Type: anthropic.BlockThinking},
		}))
		t.activeBlock = blockThinking
	}

	frames = append(frames, frame(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: t.blockIndex,
		Delta: anthropic.Delta{Type: anthropic.DeltaThinking, Thinking: part.Text},
	}))
	return frames
}

func (t *Translator) emitText(part gemini.Part) []anthropic.Frame {
	var frames []anthropic.Frame
	if t.activeBlock != blockText {
		frames = append(frames, t.closeActiveBlock()...)
		index := t.nextIndex()
		frames = append(frames, frame(anthropic.EventContentBlockStart, anthropic.ContentBlockStartPayload{
			Type:  "content_block_start",
			Index: index,
			ContentBlock: anthropic.ContentBlockInit{Type: anthropic.BlockText},
		}))
		t.activeBlock = blockText
	}

	frames = append(frames, frame(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: t.blockIndex,
		Delta: anthropic.Delta{Type: anthropic.DeltaText, Text: part.Text},
	}))
	return frames
}

// closeActiveBlock emits content_block_stop for whatever block is
// currently open, if any, per the "at most one open block" invariant.
// Closing a thinking block first emits a signature_delta carrying a
// freshly generated signature (spec.md §4.2 step 4/5) — the echo-back
// token is minted here, at close time, not forwarded from whatever
// thoughtSignature (if any) the incoming Gemini parts happened to carry.
func (t *Translator) closeActiveBlock() []anthropic.Frame {
	if t.activeBlock == blockNone {
		return nil
	}
	var frames []anthropic.Frame
	if t.activeBlock == blockThinking {
		frames = append(frames, frame(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaPayload{
			Type:  "content_block_delta",
			Index: t.blockIndex,
			Delta: anthropic.Delta{Type: anthropic.DeltaSignature, Signature: ids.NewSignature()},
		}))
	}
	frames = append(frames, frame(anthropic.EventContentBlockStop, anthropic.ContentBlockStopPayload{
		Type: "content_block_stop", Index: t.blockIndex,
	}))
	t.activeBlock = blockNone
	return frames
}

// nextIndex advances and returns the index for a newly-opened block.
// The first block opened (blockIndex starts at -1 conceptually) must be
// 0; subsequent blocks strictly increase.
func (t *Translator) nextIndex() int {
	if !t.anyBlockOpened {
		t.anyBlockOpened = true
		return 0
	}
	t.blockIndex++
	return t.blockIndex
}

func (t *Translator) finish() []anthropic.Frame {
	frames := t.closeActiveBlock()

	stopReason := "end_turn"
	if t.hasFunctionCall {
		stopReason = "tool_use"
	} else if mapped, ok := stopReasonByFinish[t.finishReason]; ok {
		stopReason = mapped
	}

	frames = append(frames, frame(anthropic.EventMessageDelta, anthropic.MessageDeltaPayload{
		Type:  "message_delta",
		Delta: anthropic.MessageDeltaFields{StopReason: &stopReason},
		Usage: anthropic.MessageDeltaUsage{OutputTokens: t.outputTokens},
	}))
	frames = append(frames, frame(anthropic.EventMessageStop, anthropic.MessageStopPayload{Type: "message_stop"}))
	return frames
}

func frame(event string, payload any) anthropic.Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// Every payload type here is a plain struct of marshalable
		// fields; a marshal failure would be a programming error, not a
		// runtime condition to recover from.
		panic(err)
	}
	return anthropic.Frame{Event: event, Data: data}
}
