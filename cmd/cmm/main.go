// Package main is the entry point for the interception gateway.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelrelay/cmm/internal/config"
	"github.com/modelrelay/cmm/internal/geminiclient"
	"github.com/modelrelay/cmm/internal/ipcache"
	"github.com/modelrelay/cmm/internal/logging"
	"github.com/modelrelay/cmm/internal/passthrough"
	"github.com/modelrelay/cmm/internal/router"
	"github.com/modelrelay/cmm/internal/tlslistener"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log.Path, os.Stdout)
	defer logger.Close()

	certBytes, err := os.ReadFile(cfg.TLS.CertPath)
	if err != nil {
		logger.Error("reading cert %s: %v", cfg.TLS.CertPath, err)
		os.Exit(1)
	}
	keyBytes, err := os.ReadFile(cfg.TLS.KeyPath)
	if err != nil {
		logger.Error("reading key %s: %v", cfg.TLS.KeyPath, err)
		os.Exit(1)
	}

	ipCache := ipcache.New(cfg.AnthropicUpstream.CachedIPPath)

	gemini := geminiclient.New(geminiclient.Options{
		BaseURL:        cfg.Upstream.GeminiBaseURL,
		Authorize:      staticBearer(cfg.Upstream.GeminiBearer),
		WrapRequest:    cfg.Upstream.WrapRequest,
		UnwrapResponse: cfg.Upstream.UnwrapResponse,
		ProviderTag:    cfg.Upstream.XCMMProviderTag,
	})

	forwarder := passthrough.New(cfg.AnthropicUpstream.Host, ipCache)

	rt := router.New(cfg, gemini, forwarder, logger)

	listener, err := tlslistener.New(tlslistener.Options{
		CertBytes:    certBytes,
		KeyBytes:     keyBytes,
		Handler:      rt,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("constructing TLS listener: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gateway listening on %s", tlslistener.Addr)
	if err := listener.ListenAndServe(ctx); err != nil {
		logger.Error("listener stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("gateway shut down cleanly")
}

// staticBearer wraps a config-supplied token in the geminiclient.AuthorizeFunc
// shape. A deployment that needs real OAuth refresh against the Gemini
// backend swaps this for a different AuthorizeFunc — the client only
// depends on the function type, per spec.md §9's "pluggable hook" resolution.
func staticBearer(token string) geminiclient.AuthorizeFunc {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}
