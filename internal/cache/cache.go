// Package cache implements the two-tier cache-aside store for resolved
// layouts: a process-local LRU in front of the shared Redis tier.
//
// The shared tier is best effort. Its failures are logged and degrade to a
// miss (reads) or a no-op (writes and deletes); they are never returned.
package cache

import (
	"context"
	"log"
	"time"

	"github.com/dyluth/flowboard/pkg/board"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLocalSize = 100
	DefaultLocalTTL  = time.Minute
	DefaultSharedTTL = 5 * time.Minute
)

// Shared is the cross-process tier. *board.Client implements it.
type Shared interface {
	GetLayout(ctx context.Context, key string) ([]board.ResolvedSection, error)
	SetLayout(ctx context.Context, key string, layout []board.ResolvedSection, ttl time.Duration) error
	DeleteLayout(ctx context.Context, key string) error
}

// Options sizes the tiers. Zero values take the defaults.
type Options struct {
	LocalSize int
	LocalTTL  time.Duration
	SharedTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.LocalSize <= 0 {
		o.LocalSize = DefaultLocalSize
	}
	if o.LocalTTL <= 0 {
		o.LocalTTL = DefaultLocalTTL
	}
	if o.SharedTTL <= 0 {
		o.SharedTTL = DefaultSharedTTL
	}
	return o
}

// Stats describes the local tier.
type Stats struct {
	LocalEntries  int `json:"l1Size"`
	LocalCapacity int `json:"l1Max"`
}

// Layered is the two-tier layout cache. It is safe for concurrent use.
type Layered struct {
	local    *expirable.LRU[string, []board.ResolvedSection]
	shared   Shared
	instance string
	opts     Options
}

// New creates a Layered cache. shared may be nil, in which case only the
// local tier is used.
func New(shared Shared, instanceName string, opts Options) *Layered {
	opts = opts.withDefaults()
	return &Layered{
		local:    expirable.NewLRU[string, []board.ResolvedSection](opts.LocalSize, nil, opts.LocalTTL),
		shared:   shared,
		instance: instanceName,
		opts:     opts,
	}
}

func (c *Layered) key(userID, projectID string) string {
	return board.LayoutKey(c.instance, userID, projectID)
}

// GetLayout returns the cached layout and true, or false on a miss in both
// tiers. A shared-tier hit warms the local tier.
func (c *Layered) GetLayout(ctx context.Context, userID, projectID string) ([]board.ResolvedSection, bool) {
	key := c.key(userID, projectID)

	if layout, ok := c.local.Get(key); ok {
		return layout, true
	}

	if c.shared == nil {
		return nil, false
	}

	layout, err := c.shared.GetLayout(ctx, key)
	if err != nil {
		if !board.IsNotFound(err) {
			log.Printf("[Cache] Tier-2 read failed for %s, treating as miss: %v", key, err)
		}
		return nil, false
	}

	c.local.Add(key, layout)
	return layout, true
}

// SetLayout writes the layout to the local tier and, best effort, to the
// shared tier.
func (c *Layered) SetLayout(ctx context.Context, userID, projectID string, layout []board.ResolvedSection) {
	key := c.key(userID, projectID)
	if layout == nil {
		layout = []board.ResolvedSection{}
	}
	c.local.Add(key, layout)

	if c.shared == nil {
		return
	}
	if err := c.shared.SetLayout(ctx, key, layout, c.opts.SharedTTL); err != nil {
		log.Printf("[Cache] Tier-2 write failed for %s: %v", key, err)
	}
}

// InvalidateUser removes the entry from both tiers. The shared tier goes
// first so that a concurrent read cannot re-warm the local tier from it
// after the local delete.
func (c *Layered) InvalidateUser(ctx context.Context, userID, projectID string) {
	key := c.key(userID, projectID)

	if c.shared != nil {
		if err := c.shared.DeleteLayout(ctx, key); err != nil {
			log.Printf("[Cache] Tier-2 delete failed for %s: %v", key, err)
		}
	}
	c.local.Remove(key)
}

// InvalidateProject invalidates every member's entry for the project
// concurrently and returns once all are done.
func (c *Layered) InvalidateProject(ctx context.Context, projectID string, memberIDs []string) {
	if len(memberIDs) == 0 {
		return
	}

	var g errgroup.Group
	for _, userID := range memberIDs {
		userID := userID
		g.Go(func() error {
			c.InvalidateUser(ctx, userID, projectID)
			return nil
		})
	}
	_ = g.Wait()
}

// Stats reports the local tier occupancy.
func (c *Layered) Stats() Stats {
	return Stats{LocalEntries: c.local.Len(), LocalCapacity: c.opts.LocalSize}
}

// Flush empties the local tier. The shared tier is left to expire.
func (c *Layered) Flush() {
	c.local.Purge()
}
