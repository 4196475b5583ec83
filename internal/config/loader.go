package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sightlinehq/sightline/internal/mode"
)

// apiKeyEnv is the environment variable consulted when agent.api_key is empty.
const apiKeyEnv = "GEMINI_API_KEY"

// ValidAgentProviders lists known agent provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidAgentProviders = []string{"gemini-live"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected to catch typos early.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Agent
	if cfg.Agent.Provider != "" {
		known := false
		for _, name := range ValidAgentProviders {
			if cfg.Agent.Provider == name {
				known = true
				break
			}
		}
		if !known {
			slog.Warn("unknown agent provider name — may be a typo",
				"name", cfg.Agent.Provider,
				"known", ValidAgentProviders,
			)
		}
	}
	if cfg.Agent.APIKey == "" && os.Getenv(apiKeyEnv) == "" {
		slog.Warn("no agent API key configured; sessions will fail to connect",
			"env", apiKeyEnv,
		)
	}

	// Session
	if cfg.Session.FrameIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("session.frame_interval_ms %d is negative", cfg.Session.FrameIntervalMs))
	}
	if cfg.Session.FrameIntervalMs > 0 && cfg.Session.FrameIntervalMs < 100 {
		slog.Warn("session.frame_interval_ms below 100ms will flood the agent with camera frames",
			"frame_interval_ms", cfg.Session.FrameIntervalMs,
		)
	}
	if cfg.Session.DefaultMode != "" {
		if _, ok := mode.Lookup(mode.ID(cfg.Session.DefaultMode)); !ok {
			errs = append(errs, fmt.Errorf("session.default_mode %q is not a registered mode", cfg.Session.DefaultMode))
		}
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Info("archive.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}

// ResolveAPIKey returns the configured API key, falling back to the
// GEMINI_API_KEY environment variable. May return empty.
func (a AgentConfig) ResolveAPIKey() string {
	if a.APIKey != "" {
		return a.APIKey
	}
	return os.Getenv(apiKeyEnv)
}

// Mode returns the configured starting mode, or [mode.Default] when unset.
func (s SessionConfig) Mode() mode.ID {
	if s.DefaultMode == "" {
		return mode.Default
	}
	return mode.ID(s.DefaultMode)
}
