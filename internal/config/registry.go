package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/reverie-rp/reverie/pkg/provider/llm"
	"github.com/reverie-rp/reverie/pkg/provider/llm/anyllm"
	"github.com/reverie-rp/reverie/pkg/provider/llm/openai"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLLM] when no
// factory exists under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider from its configuration entry.
type Factory func(ProviderEntry) (llm.Provider, error)

// Registry maps provider names to constructors. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]Factory)}
}

// RegisterLLM registers a provider factory under name. Re-registration
// overwrites.
func (r *Registry) RegisterLLM(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM builds the provider named in entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// DefaultRegistry returns a registry pre-populated with every provider this
// build ships. Most names route through the universal any-llm backend;
// "openai-direct" uses the native OpenAI SDK client instead.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"} {
		name := name
		r.RegisterLLM(name, func(e ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}
	r.RegisterLLM("openai-direct", func(e ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	return r
}
