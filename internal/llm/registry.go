package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/recall/internal/config"
	"github.com/soyeahso/recall/internal/logging"
)

// ErrUnknownProvider is returned by Resolve when nothing matches a reference.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Registry maps provider names and aliases to clients. A reference that
// matches neither resolves to the fallback provider, if one is set.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	aliases  map[string]string
	fallback string
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds or replaces the client for name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		r.log.Warn().Str("provider", name).Msg("replacing registered provider")
	}
	r.clients[name] = client
	_, embeds := client.(Embedder)
	r.log.Debug().Str("provider", name).Bool("embeddings", embeds).Msg("provider registered")
}

// Alias makes alias resolve to provider.
func (r *Registry) Alias(alias, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = provider
}

func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve looks ref up as a provider name, then as an alias, then falls
// back. The error wraps ErrUnknownProvider.
func (r *Registry) Resolve(ref string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := ref
	if target, ok := r.aliases[ref]; ok {
		name = target
	}
	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if c, ok := r.clients[r.fallback]; ok && r.fallback != "" {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownProvider, ref)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig builds a Registry with one SDK client per configured
// provider. The chat role's provider becomes the fallback.
func NewRegistryFromConfig(ctx context.Context, cfg config.ModelsConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := cfg.Providers[name]
		client, err := newProviderClient(ctx, name, p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		reg.Register(name, client)
		for _, alias := range p.Aliases {
			reg.Alias(alias, name)
		}
	}

	if chat := cfg.Roles.Chat.Provider; chat != "" {
		reg.SetFallback(chat)
	}
	return reg, nil
}

func newProviderClient(ctx context.Context, name string, p config.ModelProviderEntry) (Client, error) {
	switch p.Type {
	case "anthropic":
		return NewAnthropicClient(name, p.APIKey, p.BaseURL), nil
	case "gemini":
		return NewGeminiClient(ctx, name, p.APIKey)
	case "openai":
		return NewOpenAIClient(name, p.APIKey, p.BaseURL), nil
	case "ollama":
		return NewOllamaClient(name, p.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}
