// Package geminiclient implements the Upstream Gemini Client (component
// C4): it turns a translated Anthropic request into an HTTP call against
// the configured Gemini-compatible endpoint, and turns the response (or
// streamed chunks) back into Anthropic wire frames.
//
// Grounded on the teacher's GoogleProvider.ChatCompletion/
// ChatCompletionStream skeleton (request building, status-code
// branching, deferred body close, context-aware channel send). The
// retry-on-429 shape borrows the Config/Do split from
// digitallysavvy-go-ai/pkg/internal/retry/retry.go, but simplified to a
// flat per-attempt delay (from Retry-After or a regex-scraped body, else
// a fixed default) instead of that package's exponential-with-jitter
// math — the spec calls for the former, not the latter. The token-cache
// coalescing follows the package-level sync.RWMutex-guarded-swap
// pattern from ginkida-gooner/internal/logging/logger.go, applied here
// to a single cached bearer token instead of a logger handle.
package geminiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/modelrelay/cmm/internal/anthropic"
	"github.com/modelrelay/cmm/internal/gemini"
	"github.com/modelrelay/cmm/internal/sse"
	"github.com/modelrelay/cmm/internal/streamtranslate"
	"github.com/modelrelay/cmm/internal/translate"
)

// retryConfig mirrors the shape of retry.Config (MaxRetries plus a
// delay), not its exponential-backoff math: spec.md §4.4 wants a flat
// per-attempt delay sourced from the 429 response itself.
type retryConfig struct {
	MaxRetries   int
	DefaultDelay time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{MaxRetries: 3, DefaultDelay: 10 * time.Second}
}

// maxRetryBodyBytes bounds how much of a 429 body we'll scan for a
// "retry after Ns" hint, per spec.md §4.4.
const maxRetryBodyBytes = 8 << 10 // 8 KiB

// maxUnaryBodyBytes bounds the non-streaming response body we'll buffer.
const maxUnaryBodyBytes = 10 << 20 // 10 MiB

// TimeoutStreaming and TimeoutUnary bound one request's end-to-end
// round trip, per spec.md §4.4/§5 — mirrors the Timeout constant
// internal/passthrough applies to its own upstream call.
const (
	TimeoutStreaming = 5 * time.Minute
	TimeoutUnary     = 2 * time.Minute
)

var retryAfterPattern = regexp.MustCompile(`(?i)(reset|retry)\s+after\s+(\d+)\s*s`)

// AuthorizeFunc mints a bearer token for the Gemini upstream. It is a
// pluggable hook (spec.md §9 Open Question 2 / Non-goals): this package
// never implements an OAuth flow itself, only calls out to one.
type AuthorizeFunc func(ctx context.Context) (string, error)

// FrameWriter is what the streaming path writes Anthropic SSE frames to.
// The router adapts its http.ResponseWriter, which must also implement
// http.Flusher, to this interface.
type FrameWriter interface {
	io.Writer
	http.Flusher
}

// Client dispatches translated requests to the Gemini upstream.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	authorize      AuthorizeFunc
	wrapRequest    bool
	unwrapResponse bool
	providerTag    string
	retry          retryConfig

	tokenMu     sync.Mutex
	cachedToken string
	refreshing  chan struct{} // non-nil while a token refresh is in flight
}

// Options configures a new Client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Authorize      AuthorizeFunc
	WrapRequest    bool
	UnwrapResponse bool
	ProviderTag    string
}

// New builds a Client. We take an *http.Client as a parameter rather
// than constructing one internally, the same dependency-injection shape
// the teacher uses for GoogleProvider: it lets tests swap in an
// httptest-backed transport and lets main.go own the timeout policy.
func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL:        opts.BaseURL,
		httpClient:     client,
		authorize:      opts.Authorize,
		wrapRequest:    opts.WrapRequest,
		unwrapResponse: opts.UnwrapResponse,
		providerTag:    opts.ProviderTag,
		retry:          defaultRetryConfig(),
	}
}

// UpstreamError wraps a failure from the Gemini upstream with the HTTP
// status that produced it, so the router can pick the right Anthropic
// error taxonomy (spec.md §7) without re-parsing strings.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini upstream error (status %d): %s", e.StatusCode, e.Body)
}

// token returns a cached bearer token, minting one via Authorize if
// none is cached yet. Concurrent callers that arrive while a refresh is
// already in flight wait on the same refresh instead of each starting
// their own — the coalescing the ginkida-gooner logger pattern models
// for a swapped resource, here applied to a token.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.cachedToken != "" {
		tok := c.cachedToken
		c.tokenMu.Unlock()
		return tok, nil
	}
	if wait := c.refreshing; wait != nil {
		c.tokenMu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return c.token(ctx)
	}

	done := make(chan struct{})
	c.refreshing = done
	c.tokenMu.Unlock()

	tok, err := c.authorize(ctx)

	c.tokenMu.Lock()
	if err == nil {
		c.cachedToken = tok
	}
	c.refreshing = nil
	c.tokenMu.Unlock()
	close(done)

	return tok, err
}

// invalidateToken drops the cached token, forcing the next call to
// token() to refresh — used after a 401 from the upstream.
func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.cachedToken = ""
	c.tokenMu.Unlock()
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.authorize == nil {
		return "", nil
	}
	return c.token(ctx)
}

// buildRequest assembles the Gemini-shaped body for one call, applying
// the optional wrapping envelope from config.
func (c *Client) buildRequest(anthReq *anthropic.Request, targetModel string) ([]byte, error) {
	geminiReq := translate.AnthropicToGemini(anthReq)
	geminiReq.Model = targetModel

	var payload any = geminiReq
	if c.wrapRequest {
		payload = gemini.WrappedRequest{Model: targetModel, Request: *geminiReq}
	}
	return json.Marshal(payload)
}

func (c *Client) endpointURL(targetModel string, stream bool) string {
	action := "generateContent"
	suffix := ""
	if stream {
		action = "streamGenerateContent"
		suffix = "?alt=sse"
	}
	return fmt.Sprintf("%s/models/%s:%s%s", c.baseURL, targetModel, action, suffix)
}

// doWithRetry sends one HTTP request built by newReq, retrying on 429
// with a flat per-attempt delay and retrying once more on 401 after
// refreshing the cached token. The caller owns closing the final
// response body.
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	authRetried := false

	for attempt := 0; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("building gemini request: %w", err)
		}

		if tok, err := c.bearer(ctx); err != nil {
			return nil, fmt.Errorf("authorizing gemini request: %w", err)
		} else if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sending request to gemini: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil

		case http.StatusTooManyRequests:
			if attempt >= c.retry.MaxRetries {
				body := readCapped(resp.Body, maxRetryBodyBytes)
				resp.Body.Close()
				return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
			}
			delay := c.retryDelay(resp)
			resp.Body.Close()
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case http.StatusUnauthorized:
			resp.Body.Close()
			if authRetried {
				return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: "authentication failed after token refresh"}
			}
			authRetried = true
			c.invalidateToken()
			continue

		default:
			body := readCapped(resp.Body, maxRetryBodyBytes)
			resp.Body.Close()
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	}
}

// retryDelay derives the flat delay to wait before retrying a 429: the
// Retry-After header if present, else a regex scan of a capped prefix of
// the body for a "reset/retry after Ns" hint, else the fixed default.
func (c *Client) retryDelay(resp *http.Response) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}

	body := readCapped(resp.Body, maxRetryBodyBytes)
	if m := retryAfterPattern.FindSubmatch(body); m != nil {
		if secs, err := strconv.Atoi(string(m[2])); err == nil {
			return time.Duration(secs) * time.Second
		}
	}

	return c.retry.DefaultDelay
}

func readCapped(r io.Reader, limit int64) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unary sends a non-streaming request and returns the translated
// Anthropic response.
func (c *Client) Unary(ctx context.Context, anthReq *anthropic.Request, targetModel string) (*anthropic.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutUnary)
	defer cancel()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		body, err := c.buildRequest(anthReq, targetModel)
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(targetModel, false), bytes.NewReader(body))
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUnaryBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}

	chunk, err := c.unmarshalChunk(data)
	if err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}

	return translate.GeminiResponseToAnthropic(targetModel, chunk), nil
}

// Stream sends a streaming request and writes the translated Anthropic
// SSE events to w as they arrive, aborting if ctx is cancelled (the
// client disconnected).
func (c *Client) Stream(ctx context.Context, anthReq *anthropic.Request, targetModel string, w FrameWriter) error {
	ctx, cancel := context.WithTimeout(ctx, TimeoutStreaming)
	defer cancel()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		body, err := c.buildRequest(anthReq, targetModel)
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(targetModel, true), bytes.NewReader(body))
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var framer sse.Framer
	translator := streamtranslate.New(targetModel)
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			events, feedErr := framer.Feed(buf[:n])
			if feedErr != nil {
				return feedErr
			}
			if err := c.emitAll(ctx, translator, events, w); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			if err := c.emitAll(ctx, translator, framer.Flush(), w); err != nil {
				return err
			}
			return c.writeFrames(w, translator.Flush())
		}
		if readErr != nil {
			return fmt.Errorf("reading gemini stream: %w", readErr)
		}
	}
}

func (c *Client) emitAll(ctx context.Context, translator *streamtranslate.Translator, events []json.RawMessage, w FrameWriter) error {
	for _, raw := range events {
		chunk, err := c.unmarshalChunk(raw)
		if err != nil {
			// A single malformed event doesn't abort the stream, matching
			// the Framer's own "malformed JSON yields no event" policy.
			continue
		}
		if err := c.writeFrames(w, translator.ProcessChunk(chunk)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (c *Client) writeFrames(w FrameWriter, frames []anthropic.Frame) error {
	for _, f := range frames {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
			return err
		}
	}
	if len(frames) > 0 {
		w.Flush()
	}
	return nil
}

func (c *Client) unmarshalChunk(raw json.RawMessage) (*gemini.StreamChunk, error) {
	if c.unwrapResponse {
		var wrapped gemini.WrappedResponse
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		return &wrapped.Response, nil
	}
	var chunk gemini.StreamChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}
