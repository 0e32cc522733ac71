package sse

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_SingleEventInOneFeed(t *testing.T) {
	var f Framer
	events, err := f.Feed([]byte("data: {\"a\":1}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"a":1}`, string(events[0]))
}

func TestFramer_ResumptionAcrossArbitraryByteSplits(t *testing.T) {
	full := []byte("data: {\"a\":1}\n\ndata: {\"b\":2}\n\n")

	// Split at every possible boundary and verify the same two events
	// come out regardless of where the cut falls (scenario S5).
	for cut := 1; cut < len(full); cut++ {
		var f Framer
		first, err := f.Feed(full[:cut])
		require.NoError(t, err)
		second, err := f.Feed(full[cut:])
		require.NoError(t, err)

		all := append(first, second...)
		require.Lenf(t, all, 2, "cut at %d produced %d events", cut, len(all))
		assert.JSONEq(t, `{"a":1}`, string(all[0]))
		assert.JSONEq(t, `{"b":2}`, string(all[1]))
	}
}

func TestFramer_MalformedJSONYieldsNoEventNoPanic(t *testing.T) {
	var f Framer
	assert.NotPanics(t, func() {
		events, err := f.Feed([]byte("data: {not json}\n\ndata: {\"ok\":true}\n\n"))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.JSONEq(t, `{"ok":true}`, string(events[0]))
	})
}

func TestFramer_NonDataLinesIgnored(t *testing.T) {
	var f Framer
	events, err := f.Feed([]byte("event: message\nid: 5\ndata: {\"x\":1}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"x":1}`, string(events[0]))
}

func TestFramer_MultiLineDataJoinedWithNewline(t *testing.T) {
	var f Framer
	events, err := f.Feed([]byte("data: {\"x\":\ndata: 1}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFramer_FlushReturnsDanglingBlockWithoutTerminator(t *testing.T) {
	var f Framer
	events, err := f.Feed([]byte("data: {\"a\":1}\n\ndata: {\"b\":2}"))
	require.NoError(t, err)
	require.Len(t, events, 1)

	flushed := f.Flush()
	require.Len(t, flushed, 1)
	assert.JSONEq(t, `{"b":2}`, string(flushed[0]))
}

func TestFramer_Overflow(t *testing.T) {
	var f Framer
	huge := bytes.Repeat([]byte("x"), MaxBufferBytes+1)
	_, err := f.Feed(huge)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFramer_RoundTrip(t *testing.T) {
	// property 6: feeding the serialized form of N arbitrary JSON values
	// and re-collecting them yields the same N values, byte-for-byte
	// equivalent as JSON.
	values := []map[string]any{
		{"type": "message_start"},
		{"type": "content_block_delta", "index": float64(0)},
		{"type": "message_stop"},
	}

	var buf bytes.Buffer
	for _, v := range values {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		buf.WriteString("data: ")
		buf.Write(b)
		buf.WriteString("\n\n")
	}

	var f Framer
	events, err := f.Feed(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, events, len(values))

	for i, ev := range events {
		var got map[string]any
		require.NoError(t, json.Unmarshal(ev, &got))
		assert.Equal(t, values[i], got)
	}
}
