package board

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func sampleLayout() []ResolvedSection {
	return []ResolvedSection{
		{ID: "s1", SectionKey: "sprint_board", Type: "board", Props: map[string]any{"projectId": "p1", "sprintStatus": "active"}},
		{ID: "s2", SectionKey: "my_issues", Type: "list", Props: map[string]any{"projectId": "p1", "userId": "u1"}},
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestLayoutRoundTrip(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	key := LayoutKey("test-instance", "u1", "p1")

	t.Run("missing key reports not found", func(t *testing.T) {
		_, err := client.GetLayout(ctx, key)
		assert.True(t, IsNotFound(err))
	})

	t.Run("set then get preserves order and props", func(t *testing.T) {
		require.NoError(t, client.SetLayout(ctx, key, sampleLayout(), 5*time.Minute))

		got, err := client.GetLayout(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, sampleLayout(), got)
	})

	t.Run("applies ttl", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, mr.TTL(key))
		mr.FastForward(6 * time.Minute)

		_, err := client.GetLayout(ctx, key)
		assert.True(t, IsNotFound(err))
	})

	t.Run("empty layout is a hit, not a miss", func(t *testing.T) {
		require.NoError(t, client.SetLayout(ctx, key, nil, time.Minute))

		got, err := client.GetLayout(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("delete removes the key", func(t *testing.T) {
		require.NoError(t, client.DeleteLayout(ctx, key))
		assert.False(t, mr.Exists(key))

		// Deleting again is not an error
		assert.NoError(t, client.DeleteLayout(ctx, key))
	})
}

func TestGetLayout_CorruptValue(t *testing.T) {
	client, mr := setupTestClient(t)
	key := LayoutKey("test-instance", "u1", "p1")
	require.NoError(t, mr.Set(key, "{not json"))

	_, err := client.GetLayout(context.Background(), key)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "failed to deserialize layout")
}

func TestGetLayout_Unavailable(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.Close()

	_, err := client.GetLayout(context.Background(), LayoutKey("test-instance", "u1", "p1"))
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestChangeEventPubSub(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeChangeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	t.Run("delivers published events", func(t *testing.T) {
		ev := &ChangeEvent{
			ChangeType: "update",
			Table:      TableIssues,
			Record:     map[string]any{"id": "i1", "status": "done"},
			PreviousRecord: map[string]any{
				"id": "i1", "status": "todo",
			},
		}
		require.NoError(t, client.PublishChangeEvent(ctx, ev))

		select {
		case got := <-sub.Events():
			assert.Equal(t, ChangeUpdate, got.ChangeType)
			assert.Equal(t, TableIssues, got.Table)
			assert.Equal(t, "done", got.Record["status"])
			assert.Equal(t, "todo", got.PreviousRecord["status"])
		case <-ctx.Done():
			t.Fatal("timed out waiting for change event")
		}
	})

	t.Run("reports malformed payloads on the error channel", func(t *testing.T) {
		mr.Publish(ChangeEventsChannel("test-instance"), "not-json")

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal change event")
		case <-ctx.Done():
			t.Fatal("timed out waiting for subscription error")
		}
	})

	t.Run("delivers parseable but invalid events", func(t *testing.T) {
		mr.Publish(ChangeEventsChannel("test-instance"), `{"type":"TRUNCATE","table":"issues","record":{}}`)

		select {
		case got := <-sub.Events():
			assert.Equal(t, ChangeType("TRUNCATE"), got.ChangeType)
			assert.Error(t, got.Validate())
		case <-ctx.Done():
			t.Fatal("timed out waiting for change event")
		}
	})

	t.Run("rejects invalid events before publishing", func(t *testing.T) {
		err := client.PublishChangeEvent(ctx, &ChangeEvent{ChangeType: "UPSERT", Table: TableIssues, Record: map[string]any{}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid change event")
	})

	t.Run("close is idempotent", func(t *testing.T) {
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})
}
