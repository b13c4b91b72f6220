package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods of [Registry]
// for a name nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name→constructor table for one provider kind.
type factories[T any] struct {
	kind string
	byID map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byID: make(map[string]Factory[T])}
}

func (f factories[T]) create(e ProviderEntry) (T, error) {
	build, ok := f.byID[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	p, err := build(e)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, e.Name, err)
	}
	return p, nil
}

// Registry resolves the provider names used in config files to
// constructors. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stt   factories[stt.Provider]
	audio factories[audio.Platform]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:   newFactories[stt.Provider]("stt"),
		audio: newFactories[audio.Platform]("audio"),
	}
}

// RegisterSTT binds name to an STT constructor, replacing any earlier one.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byID[name] = f
	r.mu.Unlock()
}

// RegisterAudio binds name to an audio platform constructor.
func (r *Registry) RegisterAudio(name string, f Factory[audio.Platform]) {
	r.mu.Lock()
	r.audio.byID[name] = f
	r.mu.Unlock()
}

// STTNames lists the registered STT names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stt.byID))
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateAudio builds the audio platform named by entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}
