// Package sse implements the SSE Framer (component C3): an incremental
// parser that turns an arbitrarily-chunked byte stream from the
// upstream Gemini connection into whole "data:" JSON payloads, without
// assuming any alignment between TCP reads and SSE event boundaries.
// Grounded on the teacher's internal/stream/stream.go scanning loop
// (bufio.Scanner-driven line splitting feeding a channel), generalized
// here to a pull-free Feed/Flush shape so the caller controls backpressure
// instead of a goroutine owning the socket read loop.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MaxBufferBytes bounds how much unparsed data the Framer will hold
// before giving up, per spec.md §4.3 — a malicious or broken upstream
// that never sends a blank-line terminator must not grow unboundedly.
const MaxBufferBytes = 5 << 20 // 5 MiB

// ErrOverflow is returned by Feed when the internal buffer would exceed
// MaxBufferBytes.
var ErrOverflow = errors.New("sse: stream overflow")

// Framer accumulates raw bytes and extracts "data: ..." line payloads
// delimited by blank lines ("\n\n"), per the SSE framing in spec.md §4.3.
// It is not safe for concurrent use.
type Framer struct {
	buf bytes.Buffer
}

// Feed appends newly-read bytes and returns every complete event's data
// payload found so far as parsed JSON. Malformed JSON within an
// otherwise well-formed block is dropped silently (no event emitted,
// no error) rather than aborting the stream. Returns ErrOverflow if the
// buffer would grow past MaxBufferBytes before a terminator arrives.
func (f *Framer) Feed(chunk []byte) ([]json.RawMessage, error) {
	if f.buf.Len()+len(chunk) > MaxBufferBytes {
		return nil, ErrOverflow
	}
	f.buf.Write(chunk)

	var out []json.RawMessage
	for {
		raw := f.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx < 0 {
			break
		}

		block := raw[:idx]
		f.buf.Next(idx + 2)

		if payload, ok := extractData(block); ok {
			var msg json.RawMessage
			if json.Unmarshal(payload, &msg) == nil {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// Flush returns any event payload left in the buffer once the upstream
// connection has closed, in case the final block had no trailing blank
// line. A dangling non-data remainder yields nothing.
func (f *Framer) Flush() []json.RawMessage {
	block := f.buf.Bytes()
	f.buf.Reset()

	if payload, ok := extractData(block); ok {
		var msg json.RawMessage
		if json.Unmarshal(payload, &msg) == nil {
			return []json.RawMessage{msg}
		}
	}
	return nil
}

// extractData pulls out and concatenates every "data: " line in block,
// per the SSE spec's multi-line data field joining (newline-separated).
// Lines that don't start with "data:" (comments, "event:", blank
// padding) are ignored, matching spec.md §4.3's framing rule that this
// gateway only cares about the data channel.
func extractData(block []byte) ([]byte, bool) {
	lines := bytes.Split(block, []byte("\n"))

	var parts [][]byte
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data:"))
		payload = bytes.TrimPrefix(payload, []byte(" "))
		parts = append(parts, payload)
	}

	if len(parts) == 0 {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}
