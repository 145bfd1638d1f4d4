package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tolk-ai/tolk/pkg/provider/embeddings"
	"github.com/tolk-ai/tolk/pkg/provider/llm"
	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	cloud      map[string]func(ProviderEntry) (llm.Provider, error)
	mt         map[string]func(ProviderEntry) (mt.Backend, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		cloud:      make(map[string]func(ProviderEntry) (llm.Provider, error)),
		mt:         make(map[string]func(ProviderEntry) (mt.Backend, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterCloud registers a cloud LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCloud(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cloud[name] = factory
}

// RegisterMT registers a machine-translation backend factory under name.
func (r *Registry) RegisterMT(name string, factory func(ProviderEntry) (mt.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mt[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateCloud instantiates a cloud LLM provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCloud(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.cloud[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: cloud/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMT instantiates a machine-translation backend using the factory
// registered under entry.Name.
func (r *Registry) CreateMT(entry ProviderEntry) (mt.Backend, error) {
	r.mu.RLock()
	factory, ok := r.mt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: mt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
