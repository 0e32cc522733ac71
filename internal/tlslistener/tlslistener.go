// Package tlslistener implements the TLS Listener (component C7): the
// process binds 127.0.0.1:443 with a locally-trusted certificate for
// api.anthropic.com and hands every accepted request to the router
// (internal/router).
//
// Grounded on the teacher's cmd/llmrouter/main.go http.Server{Addr,
// Handler, ReadTimeout, WriteTimeout} construction and its
// internal/server/server.go chi.Router + middleware.Logger +
// middleware.Recoverer wiring, reused here verbatim (plus
// middleware.RequestID, which the router reads back via
// middleware.GetReqID to correlate its own log lines), extended with a
// tls.Config built from the configured cert/key pair (MinVersion TLS
// 1.2, NextProtos advertising h2 per golang.org/x/net/http2, pulled in
// the same way the rest of the pack depends on golang.org/x/net) and
// graceful shutdown on SIGINT/SIGTERM via signal.NotifyContext +
// http.Server.Shutdown, which the teacher's single ListenAndServe call
// never needed.
package tlslistener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"

	"github.com/modelrelay/cmm/internal/logging"
)

// Addr is the fixed loopback address spec.md §4.7 binds: 443 is not
// configurable, since this gateway only ever serves the hijacked
// api.anthropic.com hostname to the local machine.
const Addr = "127.0.0.1:443"

// Listener owns the TLS-terminating http.Server and the handler it
// dispatches to (internal/router.Router).
type Listener struct {
	server *http.Server
	logger *logging.Logger
}

// Options configures a Listener.
type Options struct {
	CertBytes    []byte
	KeyBytes     []byte
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// New builds a Listener from an in-memory cert/key pair and the
// handler every request is dispatched to. Every request is stamped
// with a request ID by chi's middleware.RequestID before reaching the
// handler, which internal/router reads back via middleware.GetReqID to
// correlate its C8 log lines for the same request.
func New(opts Options) (*Listener, error) {
	cert, err := tls.X509KeyPair(opts.CertBytes, opts.KeyBytes)
	if err != nil {
		return nil, fmt.Errorf("tlslistener: loading cert/key pair: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Handle("/*", opts.Handler)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{http2.NextProtoTLS, "http/1.1"},
	}

	srv := &http.Server{
		Addr:         Addr,
		Handler:      r,
		TLSConfig:    tlsConfig,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return &Listener{server: srv, logger: opts.Logger}, nil
}

// ListenAndServe binds Addr and serves TLS connections until ctx is
// canceled, at which point it drains in-flight requests and returns.
// Bind failures are translated to the operator-facing messages spec.md
// §4.7 calls for.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return translateBindError(err)
	}
	tlsLn := tls.NewListener(ln, l.server.TLSConfig)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- l.server.Serve(tlsLn)
	}()

	select {
	case <-ctx.Done():
		if l.logger != nil {
			l.logger.Info("shutdown signal received, draining in-flight requests")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("tlslistener: graceful shutdown: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if l.logger != nil {
			l.logger.Error("listener serve loop exited: %v", err)
		}
		return err
	}
}

func translateBindError(err error) error {
	if errors.Is(err, syscall.EACCES) {
		return fmt.Errorf("tlslistener: binding %s: port requires root: %w", Addr, err)
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("tlslistener: binding %s: already running: %w", Addr, err)
	}
	return fmt.Errorf("tlslistener: binding %s: %w", Addr, err)
}
