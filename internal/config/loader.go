package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Engine.Name.IsValid() {
		errs = append(errs, fmt.Errorf("engine.name %q is not one of sine, openai, elevenlabs", cfg.Engine.Name))
	}
	if cfg.Engine.Name != EngineSine && cfg.Engine.Name.IsValid() && cfg.Engine.APIKey == "" {
		errs = append(errs, fmt.Errorf("engine.api_key is required for engine %q", cfg.Engine.Name))
	}
	if cfg.Engine.Name == EngineElevenLabs && cfg.Engine.Voice == "" {
		errs = append(errs, errors.New("engine.voice is required for engine \"elevenlabs\""))
	}

	if cfg.Gateway.SessionTTL < 0 {
		errs = append(errs, errors.New("gateway.session_ttl must not be negative"))
	}
	if cfg.Gateway.MaxPendingUnits < 0 {
		errs = append(errs, errors.New("gateway.max_pending_units must not be negative"))
	}
	if cfg.Gateway.MaxSendQueue < 0 {
		errs = append(errs, errors.New("gateway.max_send_queue must not be negative"))
	}
	if cfg.Gateway.CleanupInterval < 0 {
		errs = append(errs, errors.New("gateway.cleanup_interval must not be negative"))
	}

	return errors.Join(errs...)
}
