// Package passthrough implements the Upstream Anthropic Passthrough
// (component C5): for requests the router doesn't intercept, it relays
// the client's bytes verbatim to the real Anthropic endpoint over a TLS
// connection dialed at a pinned IP with an explicit SNI, since the
// gateway's own DNS hijack means a normal net/http dial would loop back
// to itself.
//
// New relative to the teacher, which never proxies raw bytes. Grounded
// on the teacher's http.NewRequestWithContext-based request
// construction style (internal/provider/google.go), extended with
// hop-by-hop header stripping and the one piece of upstream-specific
// logic spec.md §4.5 asks for: on a 400 response, decompress the body
// (gzip/flate via stdlib, brotli via github.com/andybalholm/brotli,
// promoted here from an indirect dependency of digitallysavvy-go-ai's
// go.mod to a direct one) and scan it for a thinking-signature mismatch,
// retrying once with a stripped body if so.
package passthrough

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Timeout bounds one passthrough round trip, per spec.md §4.5/§6.
const Timeout = 2 * time.Minute

// maxErrorBodyBytes caps how much decompressed text of a 400 body is
// scanned for the thinking-signature retry trigger. The raw response
// body itself is read in full.
const maxErrorBodyBytes = 1 << 20 // 1 MiB

// signatureErrorNeedle is the exact substring Anthropic's 400 body
// contains when a cached thinking signature no longer matches the
// request, per spec.md §4.5. Matching the literal phrase rather than a
// loose "signature" substring avoids retrying on unrelated 400s that
// merely mention signatures in some other context.
const signatureErrorNeedle = "Invalid `signature` in `thinking` block"

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1 —
// they describe this specific connection, not the resource.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// IPResolver supplies the pinned upstream IP to dial, decoupling this
// package from any particular cache implementation (internal/ipcache
// satisfies it via its Get method).
type IPResolver interface {
	Get() (string, bool)
}

// Forwarder relays requests to the real Anthropic host.
type Forwarder struct {
	Host     string // real hostname, used as TLS SNI and Host header
	Resolver IPResolver
}

// New builds a Forwarder.
func New(host string, resolver IPResolver) *Forwarder {
	return &Forwarder{Host: host, Resolver: resolver}
}

// Result carries the upstream's status and body back to the caller,
// which is responsible for writing them to the client (the router owns
// the ResponseWriter lifecycle across both the intercept and
// passthrough paths).
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RetryBodyFunc produces a modified request body for the one-shot
// signature-error retry (spec.md §4.5) — typically stripping cached
// thinking blocks the upstream just rejected.
type RetryBodyFunc func(original []byte) []byte

// Forward relays method+path+headers+body to the pinned Anthropic host
// and returns the raw response. On a 400 whose body mentions a
// signature mismatch, it retries once with retryBody(body), if provided.
func (f *Forwarder) Forward(ctx context.Context, method, path string, header http.Header, body []byte, retryBody RetryBodyFunc) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	result, err := f.roundTrip(ctx, method, path, header, body)
	if err != nil {
		return nil, err
	}

	if result.StatusCode == http.StatusBadRequest && retryBody != nil {
		decoded := decompressBody(result.Header, result.Body)
		if strings.Contains(string(decoded), signatureErrorNeedle) {
			retried, err := f.roundTrip(ctx, method, path, header, retryBody(body))
			if err == nil {
				return retried, nil
			}
			// Fall through to the original result if the retry itself fails.
		}
	}

	return result, nil
}

func (f *Forwarder) roundTrip(ctx context.Context, method, path string, header http.Header, body []byte) (*Result, error) {
	ip, ok := f.Resolver.Get()
	if !ok {
		return nil, fmt.Errorf("passthrough: no cached upstream IP for %s", f.Host)
	}

	conn, err := dialPinned(ctx, ip, f.Host)
	if err != nil {
		return nil, fmt.Errorf("passthrough: dialing %s at %s: %w", f.Host, ip, err)
	}
	defer conn.Close()

	req, err := http.NewRequestWithContext(ctx, method, "https://"+f.Host+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("passthrough: building request: %w", err)
	}
	req.Header = stripHopByHop(header)
	req.Host = f.Host

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return conn, nil
			},
			DisableKeepAlives: true,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("passthrough: round trip to %s: %w", f.Host, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("passthrough: reading response body: %w", err)
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// dialPinned opens a TLS connection to ip:443 while presenting host as
// the SNI and validating the peer certificate against host — the
// gateway's own DNS hijack means a plain tls.Dial(host, ...) would
// resolve back to 127.0.0.1, so the IP is supplied directly and the
// hostname is only used for SNI/verification.
func dialPinned(ctx context.Context, ip, host string) (net.Conn, error) {
	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, "443"))
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(raw, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

func stripHopByHop(header http.Header) http.Header {
	out := header.Clone()
	for _, h := range hopByHopHeaders {
		out.Del(h)
	}
	return out
}

// decompressBody best-effort decodes a response body per its
// Content-Encoding, returning it unchanged if unrecognized or on error —
// the signature scan below degrades gracefully to a no-match rather
// than failing the passthrough over a body it can't decode.
func decompressBody(header http.Header, body []byte) []byte {
	switch strings.ToLower(header.Get("Content-Encoding")) {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
		if err != nil {
			return body
		}
		return out

	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
		if err != nil {
			return body
		}
		return out

	case "br":
		r := brotli.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
		if err != nil {
			return body
		}
		return out

	default:
		return body
	}
}
