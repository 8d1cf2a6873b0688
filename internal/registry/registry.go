// Package registry implements the engine's PluginRegistry (spec.md §4.1): a
// directory mapping a component kind string to the descriptor capable of
// constructing it.
//
// Unlike the teacher's single process-wide GlobalPluginRegistry holding one
// untyped map[string]PluginFactory, this package keeps three separately
// typed registries (sources, reactions, bootstrappers) and is instantiated
// per-Engine rather than as a package-level singleton, since spec.md allows
// an engine to host several independently configured runtime instances that
// may each want different descriptor sets (e.g. a test instance registering
// an override "mock" descriptor without affecting the default one).
package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Descriptor is the common shape every plugin descriptor exposes
// regardless of family (spec.md §4.1).
type Descriptor interface {
	Kind() string
	ConfigVersion() int
	ConfigSchemaJSON() string
	ConfigSchemaName() string
}

// SourceDescriptor builds Source instances (spec.md §4.2).
type SourceDescriptor interface {
	Descriptor
	Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error)
}

// ReactionDescriptor builds Reaction instances, additionally taking the
// list of query ids the reaction subscribes to.
type ReactionDescriptor interface {
	Descriptor
	Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error)
}

// BootstrapperDescriptor builds a bootstrap provider attached to a source.
type BootstrapperDescriptor interface {
	Descriptor
	Create(id string, cfg map[string]interface{}) (interface{}, error)
}

// Info is the read-only summary returned by PluginInfos.
type Info struct {
	Kind          string `json:"kind"`
	ConfigVersion int    `json:"configVersion"`
	SchemaName    string `json:"configSchemaName"`
}

// Registry is the PluginRegistry: mutable during startup, read-heavy during
// run. spec.md §5 calls for registries to be wrapped in read-write locks
// since writes (registration) are rare and reads (lookups during factory
// calls) are common.
type Registry struct {
	mu            sync.RWMutex
	sources       map[string]SourceDescriptor
	reactions     map[string]ReactionDescriptor
	bootstrappers map[string]BootstrapperDescriptor
	log           *zerolog.Logger
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		sources:       make(map[string]SourceDescriptor),
		reactions:     make(map[string]ReactionDescriptor),
		bootstrappers: make(map[string]BootstrapperDescriptor),
		log:           logger.Registry(),
	}
}

// RegisterSource inserts d keyed by d.Kind(). Duplicate kinds replace
// silently, last registration wins (spec.md §4.1, §8 boundary behavior),
// which is intentionally permissive to support test overrides.
func (r *Registry) RegisterSource(d SourceDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[d.Kind()]; exists {
		r.log.Warn().Str("kind", d.Kind()).Msg("source kind already registered, overwriting")
	}
	r.sources[d.Kind()] = d
}

// RegisterReaction inserts d keyed by d.Kind(), last-wins.
func (r *Registry) RegisterReaction(d ReactionDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reactions[d.Kind()]; exists {
		r.log.Warn().Str("kind", d.Kind()).Msg("reaction kind already registered, overwriting")
	}
	r.reactions[d.Kind()] = d
}

// RegisterBootstrapper inserts d keyed by d.Kind(), last-wins.
func (r *Registry) RegisterBootstrapper(d BootstrapperDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bootstrappers[d.Kind()]; exists {
		r.log.Warn().Str("kind", d.Kind()).Msg("bootstrapper kind already registered, overwriting")
	}
	r.bootstrappers[d.Kind()] = d
}

// GetSource looks up a source descriptor. A miss is fatal at factory time
// per spec.md §4.1 and must enumerate available kinds alphabetically
// (spec.md §8 scenario f).
func (r *Registry) GetSource(kind string) (SourceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sources[kind]
	if !ok {
		return nil, apierrors.UnknownKind("source", kind, sortedKeys(r.sources))
	}
	return d, nil
}

// GetReaction looks up a reaction descriptor, same miss semantics as GetSource.
func (r *Registry) GetReaction(kind string) (ReactionDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.reactions[kind]
	if !ok {
		return nil, apierrors.UnknownKind("reaction", kind, sortedKeysReaction(r.reactions))
	}
	return d, nil
}

// GetBootstrapper looks up a bootstrapper descriptor, same miss semantics.
func (r *Registry) GetBootstrapper(kind string) (BootstrapperDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.bootstrappers[kind]
	if !ok {
		return nil, apierrors.UnknownKind("bootstrapper", kind, sortedKeysBootstrapper(r.bootstrappers))
	}
	return d, nil
}

// ListSourceKinds returns registered source kinds, alphabetically sorted.
func (r *Registry) ListSourceKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// ListReactionKinds returns registered reaction kinds, alphabetically sorted.
func (r *Registry) ListReactionKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysReaction(r.reactions)
}

// ListBootstrapperKinds returns registered bootstrapper kinds, alphabetically sorted.
func (r *Registry) ListBootstrapperKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysBootstrapper(r.bootstrappers)
}

// SourceInfos returns plugin_infos() for the source family.
func (r *Registry) SourceInfos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.sources))
	for _, k := range sortedKeys(r.sources) {
		d := r.sources[k]
		infos = append(infos, Info{Kind: d.Kind(), ConfigVersion: d.ConfigVersion(), SchemaName: d.ConfigSchemaName()})
	}
	return infos
}

// ReactionInfos returns plugin_infos() for the reaction family.
func (r *Registry) ReactionInfos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.reactions))
	for _, k := range sortedKeysReaction(r.reactions) {
		d := r.reactions[k]
		infos = append(infos, Info{Kind: d.Kind(), ConfigVersion: d.ConfigVersion(), SchemaName: d.ConfigSchemaName()})
	}
	return infos
}

func sortedKeys(m map[string]SourceDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysReaction(m map[string]ReactionDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysBootstrapper(m map[string]BootstrapperDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
