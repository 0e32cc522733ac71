// Package ipcache holds the pinned upstream IP the passthrough path
// (internal/passthrough) dials directly, bypassing the gateway's own
// DNS hijack of the real hostname. Resolving that IP (via whatever DNS
// strategy the surrounding process uses) is an external collaborator's
// job per spec.md §1; this package only implements the narrow interface
// C5 consumes: an atomically-swappable cached value, persisted to disk
// so a restart doesn't need to re-resolve before the first request.
//
// Grounded on the package-level mutex-guarded-swap shape in
// ginkida-gooner/internal/logging/logger.go, specialized here to
// atomic.Pointer per spec.md §5's guidance that a plain atomic replace
// is sufficient for this value (no read-modify-write ever needed).
package ipcache

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Cache holds one cached IP address, safe for concurrent Get/Set.
type Cache struct {
	path string
	ip   atomic.Pointer[string]
}

// New returns a Cache backed by path. If path contains a previously
// persisted IP, it's loaded immediately; a missing or unreadable file is
// not an error — Get simply reports no cached value yet.
func New(path string) *Cache {
	c := &Cache{path: path}
	if path == "" {
		return c
	}
	if data, err := os.ReadFile(path); err == nil {
		ip := string(data)
		c.ip.Store(&ip)
	}
	return c
}

// Get returns the cached IP and whether one is present.
func (c *Cache) Get() (string, bool) {
	p := c.ip.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Set atomically replaces the cached IP and persists it to disk at mode
// 0600 (the pinned IP isn't secret, but the file sits next to other
// gateway state that is, so the same restrictive mode applies uniformly).
func (c *Cache) Set(ip string) error {
	c.ip.Store(&ip)
	if c.path == "" {
		return nil
	}
	if err := os.WriteFile(c.path, []byte(ip), 0o600); err != nil {
		return fmt.Errorf("ipcache: persisting %s: %w", c.path, err)
	}
	return nil
}
