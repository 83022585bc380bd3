package layout

import (
	"context"

	"github.com/dyluth/flowboard/pkg/board"
)

// Cache is the cache-aside store consulted before resolving.
type Cache interface {
	GetLayout(ctx context.Context, userID, projectID string) ([]board.ResolvedSection, bool)
	SetLayout(ctx context.Context, userID, projectID string, layout []board.ResolvedSection)
}

// Result is the answer to a layout request.
type Result struct {
	Layout    []board.ResolvedSection `json:"layout"`
	FromCache bool                    `json:"fromCache"`
}

// Service resolves layouts through the cache.
type Service struct {
	cache    Cache
	builder  *Builder
	resolver *Resolver
}

// NewService wires a Service.
func NewService(cache Cache, builder *Builder, resolver *Resolver) *Service {
	return &Service{cache: cache, builder: builder, resolver: resolver}
}

// ResolveLayout returns the layout of userID in projectID, served from the
// cache when possible. On a miss the layout is built, resolved and written
// back to the cache.
func (s *Service) ResolveLayout(ctx context.Context, userID, projectID string) (*Result, error) {
	if cached, ok := s.cache.GetLayout(ctx, userID, projectID); ok {
		return &Result{Layout: cached, FromCache: true}, nil
	}

	uc, err := s.builder.Build(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	sections, err := s.resolver.Resolve(ctx, uc)
	if err != nil {
		return nil, err
	}

	s.cache.SetLayout(ctx, userID, projectID, sections)
	return &Result{Layout: sections}, nil
}
