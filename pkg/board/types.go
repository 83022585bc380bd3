package board

import (
	"fmt"
	"strings"
)

// ResolvedSection is one visible section of a layout with server-resolved props.
type ResolvedSection struct {
	ID         string         `json:"id"`
	SectionKey string         `json:"sectionKey"`
	Type       string         `json:"type"`
	Props      map[string]any `json:"props"`
}

// ChangeType is the kind of row mutation reported by the persistence layer.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Validate checks if the ChangeType is a valid enum value.
func (ct ChangeType) Validate() error {
	switch ct {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return nil
	default:
		return fmt.Errorf("unknown change type: %q", ct)
	}
}

// Table names a watched entity table.
type Table string

const (
	TableIssues         Table = "issues"
	TableSprints        Table = "sprints"
	TableComments       Table = "comments"
	TableProjectMembers Table = "project_members"
)

// ChangeEvent is a normalized notification for one committed mutation.
// Record is nil for deletes; PreviousRecord is nil for inserts.
type ChangeEvent struct {
	ChangeType     ChangeType     `json:"type"`
	Table          Table          `json:"table"`
	Schema         string         `json:"schema,omitempty"`
	Record         map[string]any `json:"record"`
	PreviousRecord map[string]any `json:"old_record,omitempty"`
}

// Validate checks that the event carries a known change type, a table name
// and at least one row image.
func (e *ChangeEvent) Validate() error {
	e.ChangeType = ChangeType(strings.ToUpper(string(e.ChangeType)))
	if err := e.ChangeType.Validate(); err != nil {
		return fmt.Errorf("invalid change type: %w", err)
	}

	if e.Table == "" {
		return fmt.Errorf("table cannot be empty")
	}

	if e.Record == nil && e.PreviousRecord == nil {
		return fmt.Errorf("event carries neither record nor old_record")
	}

	return nil
}

// ActionType tags an Action.
type ActionType string

const (
	ActionMoveCard           ActionType = "move_card"
	ActionUpdateProgress     ActionType = "update_progress"
	ActionShowNotification   ActionType = "show_notification"
	ActionInvalidateLayout   ActionType = "invalidate_layout"
	ActionInvalidateIssues   ActionType = "invalidate_issues"
	ActionInvalidateComments ActionType = "invalidate_comments"
	ActionInvalidateActivity ActionType = "invalidate_activity"
	ActionRemoveCard         ActionType = "remove_card"
	ActionNotifyMentions     ActionType = "notify_mentions"
)

// Variant is the severity of a notification.
type Variant string

const (
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
)

// Action is a UI instruction pushed to connected clients.
// Only the fields relevant to Type are populated.
type Action struct {
	Type       ActionType `json:"type"`
	CardID     string     `json:"cardId,omitempty"`
	FromColumn string     `json:"fromColumn,omitempty"`
	ToColumn   string     `json:"toColumn,omitempty"`
	SprintID   string     `json:"sprintId,omitempty"`
	ProjectID  string     `json:"projectId,omitempty"`
	IssueID    string     `json:"issueId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	Message    string     `json:"message,omitempty"`
	Variant    Variant    `json:"variant,omitempty"`
	Mentions   []string   `json:"mentions,omitempty"`
}

// MoveCard builds a move_card action.
func MoveCard(cardID, fromColumn, toColumn string) Action {
	return Action{Type: ActionMoveCard, CardID: cardID, FromColumn: fromColumn, ToColumn: toColumn}
}

// UpdateProgress builds an update_progress action for a sprint.
func UpdateProgress(sprintID string) Action {
	return Action{Type: ActionUpdateProgress, SprintID: sprintID}
}

// ShowNotification builds a show_notification action.
func ShowNotification(message string, variant Variant) Action {
	return Action{Type: ActionShowNotification, Message: message, Variant: variant}
}

// InvalidateLayout builds an invalidate_layout action. An empty userID means
// every member of the project.
func InvalidateLayout(userID string) Action {
	return Action{Type: ActionInvalidateLayout, UserID: userID}
}

// InvalidateIssues builds an invalidate_issues action for a project.
func InvalidateIssues(projectID string) Action {
	return Action{Type: ActionInvalidateIssues, ProjectID: projectID}
}

// InvalidateComments builds an invalidate_comments action for an issue.
func InvalidateComments(issueID string) Action {
	return Action{Type: ActionInvalidateComments, IssueID: issueID}
}

// InvalidateActivity builds the activity-feed hint appended to project pushes.
func InvalidateActivity(projectID string) Action {
	return Action{Type: ActionInvalidateActivity, ProjectID: projectID}
}

// RemoveCard builds a remove_card action.
func RemoveCard(cardID, projectID string) Action {
	return Action{Type: ActionRemoveCard, CardID: cardID, ProjectID: projectID}
}

// NotifyMentions builds a notify_mentions action.
func NotifyMentions(mentions []string, issueID, message string) Action {
	return Action{Type: ActionNotifyMentions, Mentions: mentions, IssueID: issueID, Message: message}
}
