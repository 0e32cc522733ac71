package passthrough

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ip string
	ok bool
}

func (f fakeResolver) Get() (string, bool) { return f.ip, f.ok }

func TestForward_NoResolvedIPReturnsError(t *testing.T) {
	fw := New("api.anthropic.com", fakeResolver{ok: false})
	_, err := fw.Forward(t.Context(), http.MethodPost, "/v1/messages", http.Header{}, []byte("{}"), nil)
	require.Error(t, err)
}

func TestStripHopByHop(t *testing.T) {
	header := http.Header{}
	header.Set("Connection", "keep-alive")
	header.Set("Content-Type", "application/json")
	header.Set("Transfer-Encoding", "chunked")

	stripped := stripHopByHop(header)
	assert.Empty(t, stripped.Get("Connection"))
	assert.Empty(t, stripped.Get("Transfer-Encoding"))
	assert.Equal(t, "application/json", stripped.Get("Content-Type"))
}

func TestDecompressBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"error":{"message":"signature mismatch"}}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	header := http.Header{}
	header.Set("Content-Encoding", "gzip")

	out := decompressBody(header, buf.Bytes())
	assert.Contains(t, string(out), "signature mismatch")
}

func TestDecompressBody_XGzipAliasesGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"error":{"message":"boom"}}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	header := http.Header{}
	header.Set("Content-Encoding", "x-gzip")

	out := decompressBody(header, buf.Bytes())
	assert.Contains(t, string(out), "boom")
}

// TestSignatureErrorNeedle_MatchesAnthropicsExactPhrase pins the retry
// trigger to the literal error message Anthropic sends (spec.md §4.5),
// not a loose substring match.
func TestSignatureErrorNeedle_MatchesAnthropicsExactPhrase(t *testing.T) {
	body := `{"type":"error","error":{"type":"invalid_request_error","message":"Invalid ` + "`signature`" + ` in ` + "`thinking`" + ` block"}}`
	assert.Contains(t, body, signatureErrorNeedle)
}

func TestSignatureErrorNeedle_DoesNotMatchUnrelatedSignatureMention(t *testing.T) {
	body := `{"type":"error","error":{"type":"invalid_request_error","message":"missing signature header"}}`
	assert.NotContains(t, body, signatureErrorNeedle)
}

func TestDecompressBody_UnknownEncodingPassesThrough(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Encoding", "identity")
	out := decompressBody(header, []byte("plain body"))
	assert.Equal(t, "plain body", string(out))
}

func TestDecompressBody_NoEncodingPassesThrough(t *testing.T) {
	out := decompressBody(http.Header{}, []byte("plain body"))
	assert.Equal(t, "plain body", string(out))
}
