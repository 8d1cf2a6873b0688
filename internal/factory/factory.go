// Package factory implements the three construction entry points spec.md
// §4.2 names: CreateSource, CreateReaction, CreateStateStoreProvider. Each
// looks the requested kind up in a registry.Registry and invokes its
// descriptor's factory function, wrapping any failure with the component's
// id and kind (spec.md §4.2: "all factory failures return a typed error
// carrying the component id and kind").
package factory

import (
	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/registry"
	"github.com/drasi-project/drasi-server/internal/statestore"
)

// SourceConfig mirrors the SourceConfig DTO of spec.md §6.1.
type SourceConfig struct {
	Kind              string
	ID                string
	AutoStart         bool
	BootstrapProvider string
	Fields            map[string]interface{}
}

// ReactionConfig mirrors the ReactionConfig DTO of spec.md §6.1.
type ReactionConfig struct {
	Kind      string
	ID        string
	Queries   []string
	AutoStart bool
	Fields    map[string]interface{}
}

// StateStoreConfig mirrors spec.md §4.2's one current variant, Redb{path}.
type StateStoreConfig struct {
	Kind string // only "redb" today
	Path string
}

// CreateSource looks up the source descriptor by kind, invokes its
// factory, and — when BootstrapProvider names a kind — instantiates that
// bootstrapper with the same raw field map (so it can reuse e.g.
// connection parameters) and attaches it via SetBootstrapProvider.
func CreateSource(reg *registry.Registry, cfg SourceConfig) (component.Source, error) {
	desc, err := reg.GetSource(cfg.Kind)
	if err != nil {
		return nil, err
	}

	raw, err := desc.Create(cfg.ID, cfg.Fields, cfg.AutoStart)
	if err != nil {
		return nil, apierrors.OperationFailed(cfg.Kind, cfg.ID, "create", err)
	}
	src, ok := raw.(component.Source)
	if !ok {
		return nil, apierrors.Internal(nil)
	}

	if cfg.BootstrapProvider != "" {
		bDesc, err := reg.GetBootstrapper(cfg.BootstrapProvider)
		if err != nil {
			return nil, err
		}
		rawProvider, err := bDesc.Create(cfg.ID, cfg.Fields)
		if err != nil {
			return nil, apierrors.OperationFailed(cfg.BootstrapProvider, cfg.ID, "create_bootstrapper", err)
		}
		provider, ok := rawProvider.(component.BootstrapProvider)
		if !ok {
			return nil, apierrors.Internal(nil)
		}
		src.SetBootstrapProvider(provider)
	}

	return src, nil
}

// CreateReaction looks up the reaction descriptor by kind and invokes its
// factory, passing along the subscribed query ids.
func CreateReaction(reg *registry.Registry, cfg ReactionConfig) (component.Reaction, error) {
	desc, err := reg.GetReaction(cfg.Kind)
	if err != nil {
		return nil, err
	}

	raw, err := desc.Create(cfg.ID, cfg.Fields, cfg.AutoStart, cfg.Queries)
	if err != nil {
		return nil, apierrors.OperationFailed(cfg.Kind, cfg.ID, "create", err)
	}
	r, ok := raw.(component.Reaction)
	if !ok {
		return nil, apierrors.Internal(nil)
	}
	return r, nil
}

// CreateStateStoreProvider resolves cfg.Path and opens (or creates) the
// backing store file. Today this only supports the "redb" kind, the
// bbolt-backed provider in internal/statestore.
func CreateStateStoreProvider(cfg StateStoreConfig) (statestore.Provider, error) {
	switch cfg.Kind {
	case "redb", "":
		return statestore.OpenBolt(cfg.Path)
	default:
		return nil, apierrors.InvalidConfig("unknown state store kind " + cfg.Kind + " (only \"redb\" is supported)")
	}
}
