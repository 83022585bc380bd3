package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instance = "test-instance"

func setupTestCache(t *testing.T, opts Options) (*Layered, *board.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, instance)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, instance, opts), client, mr
}

func layoutFor(projectID string) []board.ResolvedSection {
	return []board.ResolvedSection{
		{ID: "d-board", SectionKey: "sprint_board", Type: "board", Props: map[string]any{"projectId": projectID, "sprintStatus": "active"}},
		{ID: "d-feed", SectionKey: "activity_feed", Type: "feed", Props: map[string]any{"projectId": projectID}},
	}
}

func TestSetThenGet_ServedFromLocalTier(t *testing.T) {
	c, _, mr := setupTestCache(t, Options{})
	ctx := context.Background()

	c.SetLayout(ctx, "u1", "p1", layoutFor("p1"))
	key := board.LayoutKey(instance, "u1", "p1")
	assert.True(t, mr.Exists(key), "written through to tier 2")
	assert.Equal(t, DefaultSharedTTL, mr.TTL(key))

	// Removing the shared copy proves the read is served locally.
	mr.Del(key)

	got, ok := c.GetLayout(ctx, "u1", "p1")
	require.True(t, ok)
	assert.Equal(t, layoutFor("p1"), got)
}

func TestGet_MissInBothTiers(t *testing.T) {
	c, _, _ := setupTestCache(t, Options{})

	got, ok := c.GetLayout(context.Background(), "u1", "p1")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGet_SharedHitWarmsLocalTier(t *testing.T) {
	c, client, mr := setupTestCache(t, Options{})
	ctx := context.Background()
	key := board.LayoutKey(instance, "u1", "p1")

	// Another process populated tier 2.
	require.NoError(t, client.SetLayout(ctx, key, layoutFor("p1"), time.Minute))

	got, ok := c.GetLayout(ctx, "u1", "p1")
	require.True(t, ok)
	assert.Equal(t, layoutFor("p1"), got)
	assert.Equal(t, 1, c.Stats().LocalEntries)

	mr.Del(key)
	got, ok = c.GetLayout(ctx, "u1", "p1")
	require.True(t, ok)
	assert.Equal(t, layoutFor("p1"), got)
}

func TestEmptyLayoutIsAHit(t *testing.T) {
	c, _, _ := setupTestCache(t, Options{})
	ctx := context.Background()

	c.SetLayout(ctx, "u1", "p1", nil)
	got, ok := c.GetLayout(ctx, "u1", "p1")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestInvalidateUser_RemovesBothTiers(t *testing.T) {
	c, _, mr := setupTestCache(t, Options{})
	ctx := context.Background()
	key := board.LayoutKey(instance, "u1", "p1")

	c.SetLayout(ctx, "u1", "p1", layoutFor("p1"))
	c.SetLayout(ctx, "u2", "p1", layoutFor("p1"))

	c.InvalidateUser(ctx, "u1", "p1")

	assert.False(t, mr.Exists(key))
	_, ok := c.GetLayout(ctx, "u1", "p1")
	assert.False(t, ok, "miss even though tier 2 is reachable")

	_, ok = c.GetLayout(ctx, "u2", "p1")
	assert.True(t, ok, "other users are untouched")
}

func TestInvalidateProject(t *testing.T) {
	c, _, mr := setupTestCache(t, Options{})
	ctx := context.Background()
	members := []string{"u1", "u2", "u3"}

	for _, u := range members {
		c.SetLayout(ctx, u, "p1", layoutFor("p1"))
	}
	c.SetLayout(ctx, "u1", "p2", layoutFor("p2"))

	t.Run("empty member set is a no-op", func(t *testing.T) {
		c.InvalidateProject(ctx, "p1", nil)
		assert.Equal(t, 4, c.Stats().LocalEntries)
	})

	t.Run("every member is invalidated", func(t *testing.T) {
		c.InvalidateProject(ctx, "p1", members)

		for _, u := range members {
			_, ok := c.GetLayout(ctx, u, "p1")
			assert.False(t, ok, u)
			assert.False(t, mr.Exists(board.LayoutKey(instance, u, "p1")))
		}
		_, ok := c.GetLayout(ctx, "u1", "p2")
		assert.True(t, ok, "other projects are untouched")
	})
}

func TestSharedTierUnavailable_DegradesToLocal(t *testing.T) {
	c, _, mr := setupTestCache(t, Options{})
	ctx := context.Background()
	mr.Close()

	_, ok := c.GetLayout(ctx, "u1", "p1")
	assert.False(t, ok, "read failure is a miss, not an error")

	c.SetLayout(ctx, "u1", "p1", layoutFor("p1"))
	got, ok := c.GetLayout(ctx, "u1", "p1")
	require.True(t, ok)
	assert.Equal(t, layoutFor("p1"), got)

	c.InvalidateUser(ctx, "u1", "p1")
	_, ok = c.GetLayout(ctx, "u1", "p1")
	assert.False(t, ok)
}

func TestLocalOnly(t *testing.T) {
	c := New(nil, instance, Options{LocalSize: 2})
	ctx := context.Background()

	c.SetLayout(ctx, "u1", "p1", layoutFor("p1"))
	c.SetLayout(ctx, "u2", "p1", layoutFor("p1"))
	c.SetLayout(ctx, "u3", "p1", layoutFor("p1"))

	assert.Equal(t, Stats{LocalEntries: 2, LocalCapacity: 2}, c.Stats())
	_, ok := c.GetLayout(ctx, "u1", "p1")
	assert.False(t, ok, "least recently used entry evicted")

	c.Flush()
	assert.Equal(t, 0, c.Stats().LocalEntries)
}

func TestLocalTTL(t *testing.T) {
	c := New(nil, instance, Options{LocalTTL: 50 * time.Millisecond})
	ctx := context.Background()

	c.SetLayout(ctx, "u1", "p1", layoutFor("p1"))
	assert.Eventually(t, func() bool {
		_, ok := c.GetLayout(ctx, "u1", "p1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDefaults(t *testing.T) {
	c := New(nil, instance, Options{})
	assert.Equal(t, Stats{LocalEntries: 0, LocalCapacity: DefaultLocalSize}, c.Stats())
}

func TestConcurrentAccess(t *testing.T) {
	c, _, _ := setupTestCache(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			for j := 0; j < 50; j++ {
				switch j % 3 {
				case 0:
					c.SetLayout(ctx, user, "p1", layoutFor("p1"))
				case 1:
					c.GetLayout(ctx, user, "p1")
				case 2:
					c.InvalidateUser(ctx, user, "p1")
				}
			}
		}(i)
	}
	wg.Wait()
}
