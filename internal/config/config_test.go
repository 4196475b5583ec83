package config_test

import (
	"strings"
	"testing"

	"github.com/sightlinehq/sightline/internal/config"
	"github.com/sightlinehq/sightline/internal/mode"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

agent:
  provider: gemini-live
  api_key: test-key
  model: gemini-2.0-flash-live-001
  voice: Aoede

session:
  frame_interval_ms: 500
  default_mode: walking_assistance

archive:
  postgres_dsn: "postgres://sightline:pw@localhost:5432/sightline"
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Agent.Provider != "gemini-live" {
		t.Errorf("agent.provider = %q", cfg.Agent.Provider)
	}
	if cfg.Agent.Voice != "Aoede" {
		t.Errorf("agent.voice = %q", cfg.Agent.Voice)
	}
	if cfg.Session.FrameIntervalMs != 500 {
		t.Errorf("frame_interval_ms = %d", cfg.Session.FrameIntervalMs)
	}
	if cfg.Session.Mode() != mode.WalkingAssistance {
		t.Errorf("default mode = %q", cfg.Session.Mode())
	}
	if cfg.Archive.PostgresDSN == "" {
		t.Error("archive dsn not parsed")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	const badYAML = `
server:
  listen_addr: ":8080"
  log_levle: info
`
	if _, err := config.LoadFromReader(strings.NewReader(badYAML)); err == nil {
		t.Fatal("unknown field was accepted")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.LogLevel = "verbose"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("invalid log level was accepted")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error does not mention log_level: %v", err)
	}
}

func TestValidate_UnknownDefaultMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.DefaultMode = "night_vision"

	if err := config.Validate(cfg); err == nil {
		t.Fatal("unknown default mode was accepted")
	}
}

func TestValidate_NegativeFrameInterval(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.FrameIntervalMs = -5

	if err := config.Validate(cfg); err == nil {
		t.Fatal("negative frame interval was accepted")
	}
}

func TestValidate_IncompleteTLS(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"}

	if err := config.Validate(cfg); err == nil {
		t.Fatal("TLS config without key_file was accepted")
	}
}

func TestResolveAPIKey(t *testing.T) {
	a := config.AgentConfig{APIKey: "from-config"}
	if got := a.ResolveAPIKey(); got != "from-config" {
		t.Errorf("ResolveAPIKey = %q", got)
	}

	t.Setenv("GEMINI_API_KEY", "from-env")
	a.APIKey = ""
	if got := a.ResolveAPIKey(); got != "from-env" {
		t.Errorf("ResolveAPIKey with env fallback = %q", got)
	}
}

func TestModeDefault(t *testing.T) {
	var s config.SessionConfig
	if got := s.Mode(); got != mode.Default {
		t.Errorf("Mode() zero value = %q, want %q", got, mode.Default)
	}
}
