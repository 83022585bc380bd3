package intake

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/flowboard/internal/actions"
	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/cache"
	"github.com/dyluth/flowboard/internal/fanout"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instance = "test-instance"

// client is a fanout.Channel that records frames.
type client struct {
	mu     sync.Mutex
	frames []fanout.Frame
}

func (c *client) Send(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, fanout.Frame{Event: event, Data: data})
	return nil
}

func (c *client) Close() {}

// received returns every frame after the connected event.
func (c *client) received() []fanout.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fanout.Frame, 0, len(c.frames))
	for _, f := range c.frames {
		if f.Event != fanout.EventConnected {
			out = append(out, f)
		}
	}
	return out
}

type harness struct {
	store    *store.Store
	cache    *cache.Layered
	registry *fanout.Registry
	pipeline *Pipeline
	alice    *client
	bob      *client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "flowboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "u-alice", Handle: "alice", Name: "Alice", IsManager: true}))
	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "u-bob", Handle: "bob", Name: "Bob"}))
	require.NoError(t, s.CreateProject(ctx, &store.Project{ID: "p-1", Name: "Apollo", Key: "APL", Type: "scrum", OwnerID: "u-alice"}))
	require.NoError(t, s.AddMember(ctx, &store.Member{ProjectID: "p-1", UserID: "u-alice", Role: "manager"}))
	require.NoError(t, s.AddMember(ctx, &store.Member{ProjectID: "p-1", UserID: "u-bob", Role: "developer"}))
	require.NoError(t, s.CreateIssue(ctx, &store.Issue{ID: "i-1", ProjectID: "p-1", Type: "task", Title: "Wire intake", Status: "todo", ReporterID: "u-alice"}))

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	bc, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, instance)
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })

	h := &harness{
		store:    s,
		cache:    cache.New(bc, instance, cache.Options{}),
		registry: fanout.NewRegistry(0),
		alice:    &client{},
		bob:      &client{},
	}
	_, err = h.registry.Register("u-alice", "p-1", h.alice)
	require.NoError(t, err)
	_, err = h.registry.Register("u-bob", "p-1", h.bob)
	require.NoError(t, err)

	h.pipeline = NewPipeline(Deps{
		Log:       s,
		Directory: s,
		Resolver:  actions.NewResolver(s),
		Cache:     h.cache,
		Push:      h.registry,
		Instance:  instance,
	})

	h.cache.SetLayout(ctx, "u-alice", "p-1", []board.ResolvedSection{{ID: "d-board"}})
	h.cache.SetLayout(ctx, "u-bob", "p-1", []board.ResolvedSection{{ID: "d-board"}})
	return h
}

func (h *harness) cached(userID string) bool {
	_, ok := h.cache.GetLayout(context.Background(), userID, "p-1")
	return ok
}

func (h *harness) lastEvent(t *testing.T) store.Event {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func decodeActions(t *testing.T, f fanout.Frame) []board.Action {
	t.Helper()
	var payload UpdatePayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	return payload.Actions
}

func TestIngest_IssueStatusChange(t *testing.T) {
	h := newHarness(t)

	err := h.pipeline.Ingest(context.Background(), &board.ChangeEvent{
		ChangeType:     board.ChangeUpdate,
		Table:          board.TableIssues,
		Record:         map[string]any{"id": "i-1", "project_id": "p-1", "status": "in_progress"},
		PreviousRecord: map[string]any{"id": "i-1", "project_id": "p-1", "status": "todo"},
	})
	require.NoError(t, err)

	assert.False(t, h.cached("u-alice"), "every member's layout is invalidated")
	assert.False(t, h.cached("u-bob"))

	for _, c := range []*client{h.alice, h.bob} {
		frames := c.received()
		require.Len(t, frames, 1)
		assert.Equal(t, fanout.EventUpdate, frames[0].Event)
		assert.Equal(t, []board.Action{
			board.MoveCard("i-1", "todo", "in_progress"),
			board.ShowNotification("Issue status updated to in_progress", board.VariantInfo),
			board.InvalidateActivity("p-1"),
		}, decodeActions(t, frames[0]))
	}

	ev := h.lastEvent(t)
	assert.Equal(t, "processed", ev.Status())
	assert.Equal(t, string(board.TableIssues), ev.Table)
}

func TestIngest_CommentMentions(t *testing.T) {
	h := newHarness(t)

	err := h.pipeline.Ingest(context.Background(), &board.ChangeEvent{
		ChangeType: board.ChangeInsert,
		Table:      board.TableComments,
		Record:     map[string]any{"id": "c-1", "issue_id": "i-1", "author_id": "u-alice", "mentions": []any{"bob", "nobody"}},
	})
	require.NoError(t, err)

	bobFrames := h.bob.received()
	require.Len(t, bobFrames, 2)
	assert.Equal(t, fanout.EventUpdate, bobFrames[0].Event)
	assert.Equal(t, fanout.EventNotification, bobFrames[1].Event)
	assert.JSONEq(t, `{"type":"mention","message":"You were mentioned in a comment","issueId":"i-1"}`, string(bobFrames[1].Data))

	aliceFrames := h.alice.received()
	require.Len(t, aliceFrames, 1, "unmentioned members only get the project update")
	assert.Equal(t, fanout.EventUpdate, aliceFrames[0].Event)

	assert.Equal(t, "processed", h.lastEvent(t).Status())
}

func TestIngest_MembershipTargetsOneUser(t *testing.T) {
	h := newHarness(t)

	err := h.pipeline.Ingest(context.Background(), &board.ChangeEvent{
		ChangeType: board.ChangeUpdate,
		Table:      board.TableProjectMembers,
		Record:     map[string]any{"project_id": "p-1", "user_id": "u-bob", "role": "manager"},
	})
	require.NoError(t, err)

	assert.True(t, h.cached("u-alice"), "other members keep their layout")
	assert.False(t, h.cached("u-bob"))

	frames := h.bob.received()
	require.Len(t, frames, 2)
	assert.Equal(t, []board.Action{board.InvalidateLayout("u-bob"), board.InvalidateActivity("p-1")}, decodeActions(t, frames[0]))
	assert.JSONEq(t, `{"actions":[{"type":"invalidate_layout"}]}`, string(frames[1].Data))
}

func TestIngest_NothingToDo(t *testing.T) {
	tests := []struct {
		name string
		ev   *board.ChangeEvent
	}{
		{
			name: "title edit",
			ev: &board.ChangeEvent{
				ChangeType:     board.ChangeUpdate,
				Table:          board.TableIssues,
				Record:         map[string]any{"id": "i-1", "project_id": "p-1", "status": "todo", "title": "b"},
				PreviousRecord: map[string]any{"id": "i-1", "project_id": "p-1", "status": "todo", "title": "a"},
			},
		},
		{
			name: "unwatched table",
			ev: &board.ChangeEvent{
				ChangeType: board.ChangeInsert,
				Table:      "attachments",
				Record:     map[string]any{"id": "a-1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.pipeline.Ingest(context.Background(), tt.ev))

			assert.Equal(t, "processed", h.lastEvent(t).Status())
			assert.Empty(t, h.alice.received())
			assert.True(t, h.cached("u-alice"))
		})
	}
}

func TestIngest_InvalidEventIsLoggedAsFailed(t *testing.T) {
	h := newHarness(t)

	err := h.pipeline.Ingest(context.Background(), &board.ChangeEvent{ChangeType: "TRUNCATE", Table: board.TableIssues, Record: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnrecognizedInput, apperr.KindOf(err))

	logged := h.lastEvent(t)
	assert.Equal(t, "failed", logged.Status())
	assert.Equal(t, string(board.TableIssues), logged.Table)
	assert.Contains(t, logged.Error, "invalid change type")
	assert.Empty(t, h.alice.received())
	assert.True(t, h.cached("u-alice"))
}

// snoopingClient records whether its own layout was still cached when each
// update frame arrived.
type snoopingClient struct {
	client
	cache     *cache.Layered
	userID    string
	projectID string
	hits      []bool
}

func (c *snoopingClient) Send(event string, data []byte) error {
	if event == fanout.EventUpdate {
		_, ok := c.cache.GetLayout(context.Background(), c.userID, c.projectID)
		c.mu.Lock()
		c.hits = append(c.hits, ok)
		c.mu.Unlock()
	}
	return c.client.Send(event, data)
}

func TestIngest_InvalidatesBeforePushing(t *testing.T) {
	tests := []struct {
		name string
		ev   *board.ChangeEvent
	}{
		{
			name: "project wide",
			ev: &board.ChangeEvent{
				ChangeType:     board.ChangeUpdate,
				Table:          board.TableIssues,
				Record:         map[string]any{"id": "i-1", "project_id": "p-1", "status": "done"},
				PreviousRecord: map[string]any{"id": "i-1", "project_id": "p-1", "status": "todo"},
			},
		},
		{
			name: "single member",
			ev: &board.ChangeEvent{
				ChangeType: board.ChangeUpdate,
				Table:      board.TableProjectMembers,
				Record:     map[string]any{"project_id": "p-1", "user_id": "u-bob", "role": "manager"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			snoop := &snoopingClient{cache: h.cache, userID: "u-bob", projectID: "p-1"}
			_, err := h.registry.Register("u-bob", "p-1", snoop)
			require.NoError(t, err)

			require.NoError(t, h.pipeline.Ingest(context.Background(), tt.ev))

			snoop.mu.Lock()
			defer snoop.mu.Unlock()
			require.NotEmpty(t, snoop.hits, "no update frame reached the client")
			for i, hit := range snoop.hits {
				assert.False(t, hit, "update frame %d arrived while the layout was still cached", i)
			}
		})
	}
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, *board.ChangeEvent) (*actions.Result, error) {
	return nil, f.err
}

type panickingPusher struct{}

func (panickingPusher) PushToUser(string, string, any) {}

func (panickingPusher) PushToProject(string, string, any) int { panic("registry exploded") }

func TestIngest_FailuresAreRecorded(t *testing.T) {
	ev := func() *board.ChangeEvent {
		return &board.ChangeEvent{
			ChangeType: board.ChangeInsert,
			Table:      board.TableIssues,
			Record:     map[string]any{"id": "i-2", "project_id": "p-1", "status": "todo"},
		}
	}

	t.Run("resolver error", func(t *testing.T) {
		h := newHarness(t)
		h.pipeline.resolver = failingResolver{err: errors.New("lookup timed out")}

		err := h.pipeline.Ingest(context.Background(), ev())
		require.Error(t, err)
		assert.Equal(t, apperr.KindProcessingFailure, apperr.KindOf(err))

		logged := h.lastEvent(t)
		assert.Equal(t, "failed", logged.Status())
		assert.Equal(t, "lookup timed out", logged.Error)
		assert.True(t, h.cached("u-alice"), "no invalidation after a resolve failure")
	})

	t.Run("panic while pushing", func(t *testing.T) {
		h := newHarness(t)
		h.pipeline.push = panickingPusher{}

		err := h.pipeline.Ingest(context.Background(), ev())
		require.Error(t, err)

		logged := h.lastEvent(t)
		assert.Equal(t, "failed", logged.Status())
		assert.Contains(t, logged.Error, "registry exploded")
	})
}

type brokenLog struct {
	appended int
}

func (b *brokenLog) AppendEvent(context.Context, *board.ChangeEvent) (string, error) {
	b.appended++
	return "", apperr.DataAccess("failed to log change event", errors.New("disk full"))
}

func (b *brokenLog) MarkProcessed(context.Context, string) error { return nil }

func (b *brokenLog) MarkFailed(context.Context, string, string) error { return nil }

type countingResolver struct{ calls int }

func (c *countingResolver) Resolve(context.Context, *board.ChangeEvent) (*actions.Result, error) {
	c.calls++
	return &actions.Result{}, nil
}

func TestIngest_LogFailureStopsProcessing(t *testing.T) {
	h := newHarness(t)
	bl := &brokenLog{}
	res := &countingResolver{}
	h.pipeline.log = bl
	h.pipeline.resolver = res

	err := h.pipeline.Ingest(context.Background(), &board.ChangeEvent{
		ChangeType: board.ChangeInsert,
		Table:      board.TableIssues,
		Record:     map[string]any{"id": "i-3", "project_id": "p-1"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsDataAccess(err))
	assert.Equal(t, 1, bl.appended)
	assert.Zero(t, res.calls)
	assert.Empty(t, h.alice.received())
}

func TestIngest_ConcurrentEvents(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.pipeline.Ingest(context.Background(), &board.ChangeEvent{
				ChangeType:     board.ChangeUpdate,
				Table:          board.TableIssues,
				Record:         map[string]any{"id": "i-1", "project_id": "p-1", "status": "done"},
				PreviousRecord: map[string]any{"id": "i-1", "project_id": "p-1", "status": "todo"},
			})
		}()
	}
	wg.Wait()

	events, err := h.store.ListEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 10)
	for _, ev := range events {
		assert.Equal(t, "processed", ev.Status())
	}
	assert.Len(t, h.alice.received(), 10)
}
