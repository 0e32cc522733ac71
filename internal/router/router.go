// Package router implements the Router/Dispatcher (component C6): the
// single entry point every hijacked request arrives at. It decides,
// per spec.md §4.6, whether a POST /v1/messages request is intercepted
// (translated and forwarded to Gemini) or passed through verbatim to
// the real Anthropic endpoint, and dispatches to internal/geminiclient
// or internal/passthrough accordingly.
//
// Grounded on the teacher's handler.go resolveProvider
// model-lookup-then-dispatch shape and server.go's chi wiring, with the
// lookup changed from an exact-match map to the configured
// {sourceModel,targetModel} prefix scan spec.md §4.6 calls for
// (config.Config.TargetModel).
package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelrelay/cmm/internal/anthropic"
	"github.com/modelrelay/cmm/internal/config"
	"github.com/modelrelay/cmm/internal/geminiclient"
	"github.com/modelrelay/cmm/internal/logging"
	"github.com/modelrelay/cmm/internal/passthrough"
)

// maxBodyBytes enforces the request size ceiling from spec.md §4.6.
const maxBodyBytes = 10 << 20 // 10 MiB

// messagesPath is the only path this gateway ever tries to intercept;
// everything else always passes through.
const messagesPath = "/v1/messages"

// GeminiDispatcher is the subset of *geminiclient.Client the router
// depends on, so tests can substitute a fake.
type GeminiDispatcher interface {
	Unary(ctx context.Context, req *anthropic.Request, targetModel string) (*anthropic.Response, error)
	Stream(ctx context.Context, req *anthropic.Request, targetModel string, w geminiclient.FrameWriter) error
}

// PassthroughForwarder is the subset of *passthrough.Forwarder the
// router depends on.
type PassthroughForwarder interface {
	Forward(ctx context.Context, method, path string, header http.Header, body []byte, retryBody passthrough.RetryBodyFunc) (*passthrough.Result, error)
}

// Router dispatches incoming requests to the intercept or passthrough path.
type Router struct {
	cfg     *config.Config
	gemini  GeminiDispatcher
	forward PassthroughForwarder
	logger  *logging.Logger
}

// New builds a Router.
func New(cfg *config.Config, gemini GeminiDispatcher, forward PassthroughForwarder, logger *logging.Logger) *Router {
	return &Router{cfg: cfg, gemini: gemini, forward: forward, logger: logger}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		rt.writeTopLevelError(w, http.StatusBadRequest, anthropic.ErrAPIError, "reading request body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		rt.writeTopLevelError(w, http.StatusRequestEntityTooLarge, anthropic.ErrAPIError, "request body exceeds maximum size")
		return
	}

	if r.Method != http.MethodPost || r.URL.Path != messagesPath {
		rt.passthrough(w, r, body)
		return
	}

	var anthReq anthropic.Request
	if err := json.Unmarshal(body, &anthReq); err != nil {
		// Not valid Anthropic JSON — can't translate it, so let the real
		// API decide what to do with it.
		rt.passthrough(w, r, body)
		return
	}

	targetModel, ok := rt.cfg.TargetModel(anthReq.Model)
	if !ok {
		rt.passthrough(w, r, body)
		return
	}

	rt.logInfo(r, "INTERCEPTED model=%s target=%s stream=%t", anthReq.Model, targetModel, anthReq.Stream)
	rt.intercept(w, r, &anthReq, targetModel)
}

func (rt *Router) intercept(w http.ResponseWriter, r *http.Request, anthReq *anthropic.Request, targetModel string) {
	if anthReq.Stream {
		flusher, ok := w.(http.Flusher)
		if !ok {
			rt.writeTopLevelError(w, http.StatusInternalServerError, anthropic.ErrAPIError, "streaming not supported by response writer")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := rt.gemini.Stream(r.Context(), anthReq, targetModel, flusherWriter{w, flusher}); err != nil {
			rt.logError(r, "stream translation failed: %v", err)
		}
		return
	}

	resp, err := rt.gemini.Unary(r.Context(), anthReq, targetModel)
	if err != nil {
		rt.writeUpstreamError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if tag := rt.cfg.Upstream.XCMMProviderTag; tag != "" {
		w.Header().Set("X-Cmm-Provider", tag)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (rt *Router) passthrough(w http.ResponseWriter, r *http.Request, body []byte) {
	rt.logInfo(r, "PASSTHROUGH %s %s", r.Method, r.URL.Path)

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	result, err := rt.forward.Forward(r.Context(), r.Method, path, r.Header, body, stripThinkingBlocks)
	if err != nil {
		rt.writeTopLevelError(w, http.StatusBadGateway, anthropic.ErrAPIError, "upstream request failed: "+err.Error())
		return
	}

	for k, values := range result.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

// stripThinkingBlocks re-marshals the original request body with any
// "thinking" content blocks removed, for the one-shot retry after a
// signature-mismatch 400 from the real Anthropic endpoint (spec.md §4.5).
// A body that isn't a well-formed Anthropic request is returned
// unchanged — the retry is best-effort, never a hard requirement.
func stripThinkingBlocks(original []byte) []byte {
	var req anthropic.Request
	if err := json.Unmarshal(original, &req); err != nil {
		return original
	}

	for i, msg := range req.Messages {
		filtered := msg.Content.Blocks[:0]
		for _, b := range msg.Content.Blocks {
			if b.Type != anthropic.BlockThinking {
				filtered = append(filtered, b)
			}
		}
		req.Messages[i].Content.Blocks = filtered
	}

	stripped, err := json.Marshal(req)
	if err != nil {
		return original
	}
	return stripped
}

func (rt *Router) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	errType := anthropic.ErrAPIError

	var upstreamErr *geminiclient.UpstreamError
	if asUpstreamError(err, &upstreamErr) {
		switch upstreamErr.StatusCode {
		case http.StatusUnauthorized:
			status = http.StatusUnauthorized
			errType = anthropic.ErrAuthentication
		case http.StatusTooManyRequests:
			status = http.StatusTooManyRequests
			errType = anthropic.ErrRateLimit
		}
	}

	rt.logError(r, "upstream error: %v", err)
	rt.writeTopLevelError(w, status, errType, err.Error())
}

func asUpstreamError(err error, target **geminiclient.UpstreamError) bool {
	u, ok := err.(*geminiclient.UpstreamError)
	if ok {
		*target = u
	}
	return ok
}

func (rt *Router) writeTopLevelError(w http.ResponseWriter, status int, errType anthropic.ErrorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropic.NewErrorEnvelope(errType, message))
}

// logInfo and logError prefix every line with the chi request ID
// (stamped by tlslistener's middleware.RequestID) so C8 log lines for
// the same request can be correlated across the INTERCEPTED/PASSTHROUGH
// line and any later error line it produces.
func (rt *Router) logInfo(r *http.Request, format string, args ...any) {
	if rt.logger != nil {
		rt.logger.Info(rt.withReqID(r, format), args...)
	}
}

func (rt *Router) logError(r *http.Request, format string, args ...any) {
	if rt.logger != nil {
		rt.logger.Error(rt.withReqID(r, format), args...)
	}
}

func (rt *Router) withReqID(r *http.Request, format string) string {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		return "[" + reqID + "] " + format
	}
	return format
}

// flusherWriter adapts an http.ResponseWriter+http.Flusher pair to
// geminiclient.FrameWriter.
type flusherWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flusherWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }
func (fw flusherWriter) Flush()                      { fw.f.Flush() }

var _ io.Writer = flusherWriter{}
