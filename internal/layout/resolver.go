package layout

import (
	"context"
	"sort"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/rules"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/dyluth/flowboard/pkg/board"
)

// Catalog supplies the section definitions.
type Catalog interface {
	ActiveSections(ctx context.Context) ([]store.SectionDefinition, error)
}

// Resolver turns a fact record into an ordered layout.
type Resolver struct {
	catalog Catalog
	props   *Registry
}

// NewResolver creates a Resolver. A nil registry means DefaultRegistry.
func NewResolver(catalog Catalog, props *Registry) *Resolver {
	if props == nil {
		props = DefaultRegistry()
	}
	return &Resolver{catalog: catalog, props: props}
}

// Resolve returns the visible sections for uc in ascending priority order,
// ties kept in catalog order. It has no caching or persistence side effects.
func (r *Resolver) Resolve(ctx context.Context, uc *UserContext) ([]board.ResolvedSection, error) {
	defs, err := r.catalog.ActiveSections(ctx)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindDataAccess {
			return nil, err
		}
		return nil, apperr.DataAccess("failed to load section catalog", err)
	}

	active := make([]store.SectionDefinition, 0, len(defs))
	for _, def := range defs {
		if def.IsActive {
			active = append(active, def)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	layout := make([]board.ResolvedSection, 0, len(active))
	for _, def := range active {
		if !rules.Evaluate(def.Rule, uc) {
			continue
		}
		layout = append(layout, board.ResolvedSection{
			ID:         def.ID,
			SectionKey: def.Key,
			Type:       def.Type,
			Props:      r.props.Resolve(def.Key, uc),
		})
	}
	return layout, nil
}
