package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// adminPasswordEnv overrides server.admin_password when set, so the secret
// can stay out of the config file.
const adminPasswordEnv = "REVERIE_ADMIN_PASSWORD"

// knownProviderNames lists the provider constructors the default registry
// ships with. Validation rejects names outside this list early rather than
// failing at first use.
var knownProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "openai-direct",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if pw := os.Getenv(adminPasswordEnv); pw != "" {
		cfg.Server.AdminPassword = pw
	}
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.DataFile == "" {
		cfg.Server.DataFile = "data/session.json"
	}
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Providers.Chat.IsZero() && cfg.Providers.Gemini.IsZero() {
		errs = append(errs, errors.New("at least one of providers.chat or providers.gemini must be configured"))
	}
	checkEntry(&errs, "chat", cfg.Providers.Chat)
	checkEntry(&errs, "gemini", cfg.Providers.Gemini)
	checkEntry(&errs, "summary", cfg.Providers.Summary)

	if cfg.Engine.RequestTimeout < 0 {
		errs = append(errs, errors.New("engine.request_timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func checkEntry(errs *[]error, slot string, e ProviderEntry) {
	if e.IsZero() {
		return
	}
	if !slices.Contains(knownProviderNames, e.Name) {
		*errs = append(*errs, fmt.Errorf("providers.%s.name %q is unknown; valid values: %v", slot, e.Name, knownProviderNames))
	}
	if e.Model == "" {
		*errs = append(*errs, fmt.Errorf("providers.%s.model must be set", slot))
	}
}
