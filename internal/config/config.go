// Package config provides the configuration schema, loader, and provider
// registry for the Reverie server.
package config

import "time"

// LogLevel controls log verbosity.
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

// Config is the root configuration, loaded from YAML via [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
}

// ServerConfig holds network, persistence, and access settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DataFile is the path of the persisted session document.
	DataFile string `yaml:"data_file"`

	// AdminPassword gates master operations. Overridable via the
	// REVERIE_ADMIN_PASSWORD environment variable; empty disables the
	// master surface entirely.
	AdminPassword string `yaml:"admin_password"`
}

// ProvidersConfig declares the model backend for each role in the pipeline.
// Chat serves message-list models, Gemini serves flattened-prompt models, and
// Summary handles history condensation (usually a cheaper model).
type ProvidersConfig struct {
	Chat    ProviderEntry `yaml:"chat"`
	Gemini  ProviderEntry `yaml:"gemini"`
	Summary ProviderEntry `yaml:"summary"`
}

// ProviderEntry is the configuration block shared by all provider slots. Name
// selects the registered constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "gemini").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint, for proxies and
	// self-hosted backends.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o", "gemini-2.0-flash").
	Model string `yaml:"model"`
}

// IsZero reports whether the slot is unconfigured.
func (p ProviderEntry) IsZero() bool { return p.Name == "" }

// EngineConfig tunes generation behaviour.
type EngineConfig struct {
	// RequestTimeout bounds a single provider call. Default: 90s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}
