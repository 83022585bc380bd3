// Package actions maps a single change event to the UI actions it implies
// and the project it concerns. It never touches the cache or the live
// connections; orchestration lives in the intake pipeline.
package actions

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/pkg/board"
)

var logf = log.Printf

// MentionMessage is the notification text sent to mentioned users.
const MentionMessage = "You were mentioned in a comment"

// Result is the intent derived from one change event.
type Result struct {
	ProjectID string         `json:"projectId,omitempty"`
	IssueID   string         `json:"issueId,omitempty"`
	Actions   []board.Action `json:"actions"`
}

// Find returns the first action of the given type.
func (r *Result) Find(t board.ActionType) (board.Action, bool) {
	for _, a := range r.Actions {
		if a.Type == t {
			return a, true
		}
	}
	return board.Action{}, false
}

// IssueLookup resolves the project that owns an issue.
type IssueLookup interface {
	IssueProjectID(ctx context.Context, issueID string) (string, error)
}

// Resolver maps change events to actions.
type Resolver struct {
	issues IssueLookup
}

// NewResolver creates a Resolver.
func NewResolver(issues IssueLookup) *Resolver {
	return &Resolver{issues: issues}
}

// Resolve returns the actions for ev, or nil if ev concerns a table that is
// not watched. An error is returned only if a lookup fails.
func (r *Resolver) Resolve(ctx context.Context, ev *board.ChangeEvent) (*Result, error) {
	switch ev.Table {
	case board.TableIssues:
		return resolveIssue(ev), nil
	case board.TableSprints:
		return resolveSprint(ev), nil
	case board.TableComments:
		return r.resolveComment(ctx, ev)
	case board.TableProjectMembers:
		return resolveMember(ev), nil
	default:
		logf("[ActionResolver] Unhandled table: %q", ev.Table)
		return nil, nil
	}
}

// changed reports whether column differs between the old and new row. A
// column absent from the old row image is treated as unchanged.
func changed(ev *board.ChangeEvent, column string) bool {
	if !board.HasField(ev.PreviousRecord, column) {
		return false
	}
	return board.StringField(ev.Record, column) != board.StringField(ev.PreviousRecord, column)
}

func resolveIssue(ev *board.ChangeEvent) *Result {
	rec, old := ev.Record, ev.PreviousRecord
	res := &Result{
		ProjectID: board.FirstNonEmpty(rec, old, "project_id"),
		Actions:   []board.Action{},
	}

	switch ev.ChangeType {
	case board.ChangeUpdate:
		if old == nil {
			break
		}
		if changed(ev, "status") {
			status := board.StringField(rec, "status")
			res.Actions = append(res.Actions, board.MoveCard(
				board.StringField(rec, "id"),
				board.StringField(old, "status"),
				status,
			))
			if sprintID := board.StringField(rec, "sprint_id"); status == "done" && sprintID != "" {
				res.Actions = append(res.Actions, board.UpdateProgress(sprintID))
			}
			res.Actions = append(res.Actions, board.ShowNotification(
				fmt.Sprintf("Issue status updated to %s", status), board.VariantInfo))
		}
		if changed(ev, "assignee_id") {
			res.Actions = append(res.Actions, board.InvalidateIssues(board.StringField(rec, "project_id")))
		}

	case board.ChangeInsert:
		res.Actions = append(res.Actions,
			board.InvalidateIssues(board.StringField(rec, "project_id")),
			board.ShowNotification("New issue created", board.VariantInfo),
		)

	case board.ChangeDelete:
		if old == nil {
			break
		}
		res.Actions = append(res.Actions, board.RemoveCard(
			board.StringField(old, "id"),
			board.StringField(old, "project_id"),
		))
	}

	return res
}

func resolveSprint(ev *board.ChangeEvent) *Result {
	res := &Result{
		ProjectID: board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "project_id"),
		Actions:   []board.Action{},
	}

	if ev.ChangeType != board.ChangeUpdate || !changed(ev, "status") {
		return res
	}

	name := board.StringField(ev.Record, "name")
	if board.StringField(ev.Record, "status") == "active" {
		res.Actions = append(res.Actions,
			board.InvalidateLayout(""),
			board.ShowNotification(fmt.Sprintf("Sprint \"%s\" has started!", name), board.VariantSuccess),
		)
	} else {
		res.Actions = append(res.Actions,
			board.InvalidateLayout(""),
			board.ShowNotification(fmt.Sprintf("Sprint \"%s\" has closed.", name), board.VariantInfo),
		)
	}
	return res
}

func (r *Resolver) resolveComment(ctx context.Context, ev *board.ChangeEvent) (*Result, error) {
	issueID := board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "issue_id")
	res := &Result{IssueID: issueID, Actions: []board.Action{}}

	if issueID != "" {
		projectID, err := r.issues.IssueProjectID(ctx, issueID)
		switch {
		case err == nil:
			res.ProjectID = projectID
		case apperr.IsNotFound(err):
			logf("[ActionResolver] Comment references unknown issue %s", issueID)
		default:
			return nil, fmt.Errorf("failed to look up project of issue %s: %w", issueID, err)
		}
	}

	if ev.ChangeType != board.ChangeInsert {
		return res, nil
	}

	res.Actions = append(res.Actions, board.InvalidateComments(issueID))
	if mentions := board.StringSliceField(ev.Record, "mentions"); len(mentions) > 0 {
		res.Actions = append(res.Actions, board.NotifyMentions(mentions, issueID, MentionMessage))
	}
	return res, nil
}

func resolveMember(ev *board.ChangeEvent) *Result {
	return &Result{
		ProjectID: board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "project_id"),
		Actions: []board.Action{
			board.InvalidateLayout(board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "user_id")),
		},
	}
}
