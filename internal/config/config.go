// Package config provides the configuration schema and loader for the
// voxgate server.
package config

import "time"

// LogLevel controls log verbosity for the voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EngineName selects the synthesis backend.
type EngineName string

const (
	// EngineSine is the built-in deterministic tone generator. No
	// credentials required; intended for tests and local development.
	EngineSine EngineName = "sine"

	// EngineOpenAI uses the OpenAI speech endpoint.
	EngineOpenAI EngineName = "openai"

	// EngineElevenLabs uses the ElevenLabs streaming WebSocket API.
	EngineElevenLabs EngineName = "elevenlabs"
)

// IsValid reports whether e is a recognised engine name.
func (e EngineName) IsValid() bool {
	switch e {
	case EngineSine, EngineOpenAI, EngineElevenLabs:
		return true
	}
	return false
}

// Config is the root configuration structure for voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// ServerConfig holds network and logging settings for the voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig selects and configures the synthesis backend.
type EngineConfig struct {
	// Name picks the backend: "sine", "openai", or "elevenlabs".
	Name EngineName `yaml:"name"`

	// APIKey authenticates against the vendor API. Required for every
	// backend except "sine".
	APIKey string `yaml:"api_key"`

	// Model is the vendor model ID. Empty uses the backend's default.
	Model string `yaml:"model"`

	// Voice is the vendor voice ID or name. Empty uses the backend's
	// default; required for "elevenlabs".
	Voice string `yaml:"voice"`
}

// GatewayConfig holds the streaming state machine tunables. Zero values fall
// back to the gateway package defaults.
type GatewayConfig struct {
	// SessionTTL is how long an idle session survives before eviction. It
	// also bounds the resume cache window.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MaxPendingUnits caps the pending character buffer; reaching it forces
	// a flush even without punctuation.
	MaxPendingUnits int `yaml:"max_pending_units"`

	// MaxSendQueue is the outbound queue capacity available to audio
	// chunks; one extra slot is reserved for a terminal message.
	MaxSendQueue int `yaml:"max_send_queue"`

	// CleanupInterval is how often the cleanup loop scans for expired
	// sessions.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns a configuration with all defaults applied: sine engine,
// info logging, listening on :8080.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Engine: EngineConfig{
			Name: EngineSine,
		},
	}
}
