// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the interception gateway.
type Config struct {
	Server            ServerConfig            `koanf:"server"`
	Mapping           []Mapping               `koanf:"mapping"`
	Upstream          UpstreamConfig          `koanf:"upstream"`
	TLS               TLSConfig               `koanf:"tls"`
	AnthropicUpstream AnthropicUpstreamConfig `koanf:"anthropic_upstream"`
	Log               LogConfig               `koanf:"log"`
}

// ServerConfig holds the loopback listener's HTTP timeouts. Port is
// fixed at 443 by spec.md §4.7 and is not configurable.
type ServerConfig struct {
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Mapping is one model-prefix routing rule (spec.md §4.6): requests
// whose model starts with SourceModel are intercepted and forwarded to
// TargetModel on the Gemini upstream; everything else passes through.
type Mapping struct {
	SourceModel string `koanf:"source_model"`
	TargetModel string `koanf:"target_model"`
}

// UpstreamConfig describes how to reach the Gemini-compatible endpoint
// that intercepted requests are translated into.
type UpstreamConfig struct {
	GeminiBaseURL   string `koanf:"gemini_base_url"`
	GeminiBearer    string `koanf:"gemini_bearer"`
	WrapRequest     bool   `koanf:"wrap_request"`
	UnwrapResponse  bool   `koanf:"unwrap_response"`
	XCMMProviderTag string `koanf:"x_cmm_provider_tag"`
}

// TLSConfig points at the locally-trusted certificate/key pair the
// listener serves for api.anthropic.com (spec.md §4.7).
type TLSConfig struct {
	CertPath string `koanf:"cert_path"`
	KeyPath  string `koanf:"key_path"`
}

// AnthropicUpstreamConfig describes the real Anthropic endpoint the
// passthrough path dials directly, bypassing the hijacked DNS entry.
type AnthropicUpstreamConfig struct {
	Host         string `koanf:"host"`
	CachedIPPath string `koanf:"cached_ip_path"`
}

// LogConfig configures the rotating plain-text logger (component C8).
type LogConfig struct {
	Path         string `koanf:"path"`
	MaxSizeBytes int64  `koanf:"max_size_bytes"`
	Backups      int    `koanf:"backups"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.read_timeout").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "CMM_" can override a config value. The callback transforms the
	// env var name into a koanf key path, splitting only after the
	// section name so snake_case field names stay intact:
	//   CMM_UPSTREAM_GEMINI_BEARER -> upstream.gemini_bearer
	if err := k.Load(env.Provider("CMM_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "CMM_"))
		for _, section := range []string{"anthropic_upstream", "server", "upstream", "tls", "log"} {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + strings.TrimPrefix(key, section+"_")
			}
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Upstream.GeminiBearer = expandEnv(cfg.Upstream.GeminiBearer)

	return &cfg, nil
}

// expandEnv resolves a single "${VAR_NAME}" placeholder against the
// process environment. Values that aren't wrapped in ${...} pass
// through unchanged.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := value[2 : len(value)-1]
		return os.Getenv(envVar)
	}
	return value
}

// TargetModel returns the upstream Gemini model for a client-requested
// model name, and whether any mapping's SourceModel prefix matched
// (spec.md §4.6 property 1: first-match-wins prefix routing).
func (c *Config) TargetModel(clientModel string) (target string, intercepted bool) {
	for _, m := range c.Mapping {
		if strings.HasPrefix(clientModel, m.SourceModel) {
			return m.TargetModel, true
		}
	}
	return "", false
}
