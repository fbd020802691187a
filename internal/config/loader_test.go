package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderFullConfig(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
engine:
  name: elevenlabs
  api_key: secret
  voice: river
gateway:
  session_ttl: 60s
  max_pending_units: 12
  max_send_queue: 50
  cleanup_interval: 2s
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Engine.Name != EngineElevenLabs || cfg.Engine.Voice != "river" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Gateway.SessionTTL != 60*time.Second {
		t.Errorf("session_ttl = %v", cfg.Gateway.SessionTTL)
	}
	if cfg.Gateway.MaxPendingUnits != 12 {
		t.Errorf("max_pending_units = %d", cfg.Gateway.MaxPendingUnits)
	}
}

func TestLoadFromReaderEmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q; want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Engine.Name != EngineSine {
		t.Errorf("engine = %q; want sine", cfg.Engine.Name)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listne_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{ListenAddr: "", LogLevel: "loud"},
		Engine: EngineConfig{Name: "festival"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"listen_addr", "log_level", "engine.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateVendorEngineRequiresKey(t *testing.T) {
	cfg := Default()
	cfg.Engine.Name = EngineOpenAI
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected api_key error, got %v", err)
	}

	cfg.Engine.APIKey = "k"
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error with api_key set: %v", err)
	}
}

func TestValidateElevenLabsRequiresVoice(t *testing.T) {
	cfg := Default()
	cfg.Engine.Name = EngineElevenLabs
	cfg.Engine.APIKey = "k"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "voice") {
		t.Errorf("expected voice error, got %v", err)
	}
}
