package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// t.TempDir() gives us a directory that's auto-deleted after the test.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  read_timeout: 10s
  write_timeout: 60s

mapping:
  - source_model: claude-haiku
    target_model: gemini-2.0-flash
  - source_model: claude-opus
    target_model: gemini-2.5-pro

upstream:
  gemini_base_url: https://example.com/v1beta
  gemini_bearer: ${TEST_GEMINI_BEARER}
  wrap_request: false
  unwrap_response: false
  x_cmm_provider_tag: gemini

tls:
  cert_path: /etc/cmm/cert.pem
  key_path: /etc/cmm/key.pem

anthropic_upstream:
  host: 160.79.104.10
  cached_ip_path: /var/lib/cmm/anthropic_ip

log:
  path: /var/log/cmm/gateway.log
  max_size_bytes: 1048576
  backups: 3
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_GEMINI_BEARER", "my-secret-token")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	require.Len(t, cfg.Mapping, 2)
	assert.Equal(t, "claude-haiku", cfg.Mapping[0].SourceModel)
	assert.Equal(t, "gemini-2.0-flash", cfg.Mapping[0].TargetModel)

	assert.Equal(t, "https://example.com/v1beta", cfg.Upstream.GeminiBaseURL)
	assert.Equal(t, "my-secret-token", cfg.Upstream.GeminiBearer)
	assert.Equal(t, "gemini", cfg.Upstream.XCMMProviderTag)

	assert.Equal(t, "/etc/cmm/cert.pem", cfg.TLS.CertPath)
	assert.Equal(t, "160.79.104.10", cfg.AnthropicUpstream.Host)
	assert.Equal(t, int64(1048576), cfg.Log.MaxSizeBytes)
	assert.Equal(t, 3, cfg.Log.Backups)
}

func TestLoadEnvOverride(t *testing.T) {
	// Verify that CMM_ env vars override YAML values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("CMM_SERVER_READ_TIMEOUT", "5s")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestTargetModel_PrefixRouting(t *testing.T) {
	cfg := &Config{Mapping: []Mapping{
		{SourceModel: "claude-haiku", TargetModel: "gemini-2.0-flash"},
		{SourceModel: "claude-opus", TargetModel: "gemini-2.5-pro"},
	}}

	target, ok := cfg.TargetModel("claude-haiku-4-5-20251001")
	assert.True(t, ok)
	assert.Equal(t, "gemini-2.0-flash", target)

	_, ok = cfg.TargetModel("gpt-4")
	assert.False(t, ok)
}

func TestTargetModel_FirstMatchWins(t *testing.T) {
	cfg := &Config{Mapping: []Mapping{
		{SourceModel: "claude", TargetModel: "gemini-general"},
		{SourceModel: "claude-opus", TargetModel: "gemini-2.5-pro"},
	}}

	target, ok := cfg.TargetModel("claude-opus-4")
	assert.True(t, ok)
	assert.Equal(t, "gemini-general", target)
}
