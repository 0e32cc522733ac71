// Package ids mints the opaque identifiers this gateway hands back to
// the client: message ids, tool_use ids, and thinking signatures. The
// formats are fixed by spec.md §6 and are plain random tokens, not
// UUIDs, so crypto/rand + encoding/base64 is the direct tool — there is
// no narrower-scoped generator for this exact shape anywhere in the
// example pack.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	messageIDPrefix = "msg_cmm_"
	toolUseIDPrefix = "toolu_cmm_"

	randomIDBytes    = 12
	signatureBytes   = 64
)

func randomBase64URL(n int) string {
	buf := make([]byte, n)
	// crypto/rand.Read never returns a short read without an error, and
	// the only error case is an unreadable system RNG — unrecoverable,
	// so panic here rather than thread an error through every call site
	// that mints an id.
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ids: reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewMessageID mints a "msg_cmm_" + base64url(12 random bytes) id.
func NewMessageID() string {
	return messageIDPrefix + randomBase64URL(randomIDBytes)
}

// NewToolUseID mints a "toolu_cmm_" + base64url(12 random bytes) id.
func NewToolUseID() string {
	return toolUseIDPrefix + randomBase64URL(randomIDBytes)
}

// NewSignature mints a base64 (standard alphabet) thinking signature
// over 64 random bytes, per spec.md §6.
func NewSignature() string {
	buf := make([]byte, signatureBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ids: reading random bytes: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
