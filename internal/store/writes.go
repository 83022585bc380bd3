package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Store) insert(ctx context.Context, what, query string, args ...any) error {
	if _, err := s.sqlDB.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", what, ErrAlreadyExists)
		}
		return fmt.Errorf("create %s: %w", what, err)
	}
	return nil
}

func ensureID(id *string) {
	if strings.TrimSpace(*id) == "" {
		*id = uuid.NewString()
	}
}

// CreateUser inserts a user. An empty ID is replaced with a new UUID.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if strings.TrimSpace(u.Handle) == "" {
		return fmt.Errorf("user handle is required")
	}
	ensureID(&u.ID)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	return s.insert(ctx, "user",
		`INSERT INTO users (id, user_handle, email, name, avatar_seed, is_manager, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Handle, u.Email, u.Name, u.AvatarSeed, boolInt(u.IsManager), toMillis(u.CreatedAt))
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.Type != "scrum" && p.Type != "kanban" {
		return fmt.Errorf("project type must be scrum or kanban, got %q", p.Type)
	}
	ensureID(&p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	return s.insert(ctx, "project",
		`INSERT INTO projects (id, name, key, type, owner_id, is_archived, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Key, p.Type, p.OwnerID, boolInt(p.IsArchived), toMillis(p.CreatedAt))
}

// AddMember inserts a project membership.
func (s *Store) AddMember(ctx context.Context, m *Member) error {
	ensureID(&m.ID)
	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now().UTC()
	}
	return s.insert(ctx, "member",
		`INSERT INTO project_members (id, project_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.UserID, m.Role, toMillis(m.JoinedAt))
}

// CreateSprint inserts a sprint.
func (s *Store) CreateSprint(ctx context.Context, sp *Sprint) error {
	ensureID(&sp.ID)
	return s.insert(ctx, "sprint",
		`INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.ProjectID, sp.Name, nullString(sp.Goal), sp.Status,
		nullMillis(sp.StartDate), nullMillis(sp.EndDate), toMillis(s.now()))
}

// NextIssueNumber atomically increments and returns the project's issue counter.
func (s *Store) NextIssueNumber(ctx context.Context, projectID string) (int, error) {
	return nextIssueNumber(ctx, s.sqlDB, projectID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextIssueNumber(ctx context.Context, q queryRower, projectID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`UPDATE projects SET issue_seq = issue_seq + 1 WHERE id = ? RETURNING issue_seq`,
		projectID,
	).Scan(&n)
	if err != nil {
		return 0, notFoundOr(err, "project "+projectID)
	}
	return n, nil
}

// CreateIssue inserts an issue, assigning the next number of its project in
// the same transaction.
func (s *Store) CreateIssue(ctx context.Context, is *Issue) error {
	ensureID(&is.ID)
	if is.Priority == "" {
		is.Priority = "medium"
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin issue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	number, err := nextIssueNumber(ctx, tx, is.ProjectID)
	if err != nil {
		return err
	}

	now := toMillis(s.now())
	var storyPoints sql.NullInt64
	if is.StoryPoints != nil {
		storyPoints = sql.NullInt64{Int64: int64(*is.StoryPoints), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO issues (id, issue_number, project_id, sprint_id, type, title, description,
		   status, priority, assignee_id, reporter_id, story_points, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		is.ID, number, is.ProjectID, nullString(is.SprintID), is.Type, is.Title,
		nullString(is.Description), is.Status, is.Priority, nullString(is.AssigneeID),
		nullString(is.ReporterID), storyPoints, nullMillis(is.DueDate), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create issue: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("create issue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue: %w", err)
	}
	is.Number = number
	return nil
}

// CreateComment inserts a comment.
func (s *Store) CreateComment(ctx context.Context, c *Comment) error {
	ensureID(&c.ID)
	mentions := c.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	data, err := json.Marshal(mentions)
	if err != nil {
		return fmt.Errorf("failed to marshal mentions: %w", err)
	}
	return s.insert(ctx, "comment",
		`INSERT INTO comments (id, issue_id, author_id, content, mentions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, c.AuthorID, c.Content, string(data), toMillis(s.now()))
}

// UpsertSection inserts or replaces a section definition by id. A replaced
// definition keeps its catalog position.
func (s *Store) UpsertSection(ctx context.Context, def *SectionDefinition) error {
	if strings.TrimSpace(def.Key) == "" {
		return fmt.Errorf("section key is required")
	}
	if err := def.Rule.Validate(); err != nil {
		return fmt.Errorf("section %s: %w", def.Key, err)
	}
	ensureID(&def.ID)

	var rawRule sql.NullString
	if def.Rule != nil {
		data, err := json.Marshal(def.Rule)
		if err != nil {
			return fmt.Errorf("failed to marshal rule: %w", err)
		}
		rawRule = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO section_definitions (id, section_key, type, rules, priority, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   section_key = excluded.section_key,
		   type = excluded.type,
		   rules = excluded.rules,
		   priority = excluded.priority,
		   is_active = excluded.is_active`,
		def.ID, def.Key, def.Type, rawRule, def.Priority, boolInt(def.IsActive))
	if err != nil {
		return fmt.Errorf("upsert section %s: %w", def.Key, err)
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
