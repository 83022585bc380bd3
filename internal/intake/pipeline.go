// Package intake drives one change event from receipt to completion: it
// logs the event durably, resolves its actions, invalidates the affected
// cache entries and pushes the actions to live clients.
//
// Every event ends in exactly one of two states on the event log:
// processed, or failed with the error attached. Failures never propagate
// past the pipeline and are not retried.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/flowboard/internal/actions"
	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/fanout"
	"github.com/dyluth/flowboard/pkg/board"
)

// EventLog is the durable change-event log.
type EventLog interface {
	AppendEvent(ctx context.Context, ev *board.ChangeEvent) (string, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// Directory resolves project members and user handles.
type Directory interface {
	ProjectMemberIDs(ctx context.Context, projectID string) ([]string, error)
	UserIDsByHandles(ctx context.Context, handles []string) ([]string, error)
}

// ActionResolver maps an event to actions.
type ActionResolver interface {
	Resolve(ctx context.Context, ev *board.ChangeEvent) (*actions.Result, error)
}

// Invalidator removes cached layouts.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID, projectID string)
	InvalidateProject(ctx context.Context, projectID string, memberIDs []string)
}

// Pusher delivers events to live clients.
type Pusher interface {
	PushToUser(userID, event string, data any)
	PushToProject(projectID, event string, data any) int
}

// UpdatePayload is the body of an update event.
type UpdatePayload struct {
	Actions []board.Action `json:"actions"`
}

// MentionNotification is the body of a mention notification event.
type MentionNotification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	IssueID string `json:"issueId"`
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Log       EventLog
	Directory Directory
	Resolver  ActionResolver
	Cache     Invalidator
	Push      Pusher
	Instance  string
}

// Pipeline processes change events. It holds no per-event state and is safe
// for concurrent use.
type Pipeline struct {
	log       EventLog
	directory Directory
	resolver  ActionResolver
	cache     Invalidator
	push      Pusher
	instance  string
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{
		log:       deps.Log,
		directory: deps.Directory,
		resolver:  deps.Resolver,
		cache:     deps.Cache,
		push:      deps.Push,
		instance:  deps.Instance,
	}
}

// Ingest logs ev and processes it to completion. It returns nil once the
// event is marked processed. If the event cannot be logged nothing else
// happens and a DataAccess error is returned; if processing fails the event
// is marked failed and a ProcessingFailure error is returned. Malformed
// events are logged, marked failed and rejected as UnrecognizedInput.
func (p *Pipeline) Ingest(ctx context.Context, ev *board.ChangeEvent) error {
	invalid := ev.Validate()

	id, err := p.log.AppendEvent(ctx, ev)
	if err != nil {
		log.Printf("[Intake] Failed to log %s on %s, dropping event: %v", ev.ChangeType, ev.Table, err)
		return err
	}

	if invalid != nil {
		if markErr := p.log.MarkFailed(ctx, id, invalid.Error()); markErr != nil {
			log.Printf("[Intake] Failed to mark event %s failed: %v", id, markErr)
		}
		p.logEvent("change_event_rejected", map[string]interface{}{
			"event_id": id,
			"table":    ev.Table,
			"error":    invalid.Error(),
		})
		return apperr.Wrap(apperr.KindUnrecognizedInput, "invalid change event "+id, invalid)
	}

	p.logEvent("change_event_logged", map[string]interface{}{
		"event_id": id,
		"table":    ev.Table,
		"type":     ev.ChangeType,
	})

	started := time.Now()
	if err := p.process(ctx, ev); err != nil {
		if markErr := p.log.MarkFailed(ctx, id, err.Error()); markErr != nil {
			log.Printf("[Intake] Failed to mark event %s failed: %v", id, markErr)
		}
		p.logEvent("change_event_failed", map[string]interface{}{
			"event_id": id,
			"table":    ev.Table,
			"error":    err.Error(),
		})
		return apperr.Wrap(apperr.KindProcessingFailure, "failed to process event "+id, err)
	}

	if err := p.log.MarkProcessed(ctx, id); err != nil {
		log.Printf("[Intake] Failed to mark event %s processed: %v", id, err)
		return err
	}

	p.logEvent("change_event_processed", map[string]interface{}{
		"event_id":    id,
		"table":       ev.Table,
		"type":        ev.ChangeType,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// process runs the resolve, invalidate and push steps. A panic in any
// collaborator is turned into an error.
func (p *Pipeline) process(ctx context.Context, ev *board.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event: %v", r)
		}
	}()

	res, err := p.resolver.Resolve(ctx, ev)
	if err != nil {
		return err
	}
	if res == nil || len(res.Actions) == 0 {
		return nil
	}

	layoutAction, hasLayoutAction := res.Find(board.ActionInvalidateLayout)
	targetUser := ""
	if hasLayoutAction {
		targetUser = layoutAction.UserID
	}

	// Invalidation must finish before any client is told to re-fetch.
	if err := p.invalidate(ctx, res.ProjectID, targetUser); err != nil {
		return err
	}

	if res.ProjectID != "" {
		payload := UpdatePayload{Actions: make([]board.Action, 0, len(res.Actions)+1)}
		payload.Actions = append(payload.Actions, res.Actions...)
		payload.Actions = append(payload.Actions, board.InvalidateActivity(res.ProjectID))
		p.push.PushToProject(res.ProjectID, fanout.EventUpdate, payload)
	}

	if mention, ok := res.Find(board.ActionNotifyMentions); ok {
		if err := p.notifyMentions(ctx, mention); err != nil {
			return err
		}
	}

	if targetUser != "" {
		p.push.PushToUser(targetUser, fanout.EventUpdate, UpdatePayload{
			Actions: []board.Action{board.InvalidateLayout("")},
		})
	}

	return nil
}

func (p *Pipeline) invalidate(ctx context.Context, projectID, targetUser string) error {
	if projectID == "" {
		return nil
	}
	if targetUser != "" {
		p.cache.InvalidateUser(ctx, targetUser, projectID)
		return nil
	}

	members, err := p.directory.ProjectMemberIDs(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load members of project %s: %w", projectID, err)
	}
	p.cache.InvalidateProject(ctx, projectID, members)
	return nil
}

func (p *Pipeline) notifyMentions(ctx context.Context, mention board.Action) error {
	if len(mention.Mentions) == 0 {
		return nil
	}
	userIDs, err := p.directory.UserIDsByHandles(ctx, mention.Mentions)
	if err != nil {
		return fmt.Errorf("failed to resolve mentions: %w", err)
	}
	for _, userID := range userIDs {
		p.push.PushToUser(userID, fanout.EventNotification, MentionNotification{
			Type:    "mention",
			Message: mention.Message,
			IssueID: mention.IssueID,
		})
	}
	return nil
}

// logEvent emits one structured JSON log line.
func (p *Pipeline) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "intake"
	data["event_type"] = eventType
	data["instance"] = p.instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Intake] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
