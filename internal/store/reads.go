package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/rules"
)

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var (
		u         User
		isManager int
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_handle, email, name, avatar_seed, is_manager, created_at
		 FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Handle, &u.Email, &u.Name, &u.AvatarSeed, &isManager, &createdAt)
	if err != nil {
		return User{}, notFoundOr(err, "user "+userID)
	}
	u.IsManager = isManager != 0
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// GetProject returns one project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (Project, error) {
	var (
		p          Project
		isArchived int
		createdAt  int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, key, type, owner_id, is_archived, created_at
		 FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &p.Name, &p.Key, &p.Type, &p.OwnerID, &isArchived, &createdAt)
	if err != nil {
		return Project{}, notFoundOr(err, "project "+projectID)
	}
	p.IsArchived = isArchived != 0
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

// GetMembership returns the membership of userID in projectID.
func (s *Store) GetMembership(ctx context.Context, projectID, userID string) (Member, error) {
	var (
		m        Member
		joinedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, role, joined_at
		 FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID,
	).Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &joinedAt)
	if err != nil {
		return Member{}, notFoundOr(err, "membership of "+userID+" in "+projectID)
	}
	m.JoinedAt = fromMillis(joinedAt)
	return m, nil
}

// GetActiveSprint returns the project's active sprint, or nil if there is none.
func (s *Store) GetActiveSprint(ctx context.Context, projectID string) (*Sprint, error) {
	var (
		sp        Sprint
		goal      sql.NullString
		startDate sql.NullInt64
		endDate   sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, project_id, name, goal, status, start_date, end_date
		 FROM sprints WHERE project_id = ? AND status = 'active'
		 ORDER BY created_at DESC LIMIT 1`, projectID,
	).Scan(&sp.ID, &sp.ProjectID, &sp.Name, &goal, &sp.Status, &startDate, &endDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.DataAccess("failed to load active sprint", err)
	}
	sp.Goal = goal.String
	sp.StartDate = timePtr(startDate)
	sp.EndDate = timePtr(endDate)
	return &sp, nil
}

// CountAssignedIssues counts the project's issues assigned to userID.
func (s *Store) CountAssignedIssues(ctx context.Context, projectID, userID string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE project_id = ? AND assignee_id = ?`,
		projectID, userID,
	).Scan(&n)
	if err != nil {
		return 0, apperr.DataAccess("failed to count assigned issues", err)
	}
	return n, nil
}

// HasOverdueIssues reports whether any issue of the project is past its due
// date and not done.
func (s *Store) HasOverdueIssues(ctx context.Context, projectID string, now time.Time) (bool, error) {
	var exists int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM issues
		   WHERE project_id = ? AND due_date IS NOT NULL AND due_date < ? AND status != 'done'
		 )`, projectID, toMillis(now),
	).Scan(&exists)
	if err != nil {
		return false, apperr.DataAccess("failed to check overdue issues", err)
	}
	return exists != 0, nil
}

// CountOpenBugs counts bugs of the project that are not closed.
func (s *Store) CountOpenBugs(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE project_id = ? AND type = 'bug' AND status != 'closed'`,
		projectID,
	).Scan(&n)
	if err != nil {
		return 0, apperr.DataAccess("failed to count open bugs", err)
	}
	return n, nil
}

// ActiveSections returns the active section definitions ordered by priority,
// ties in insertion order. A definition whose stored rule cannot be parsed is
// skipped with a warning.
func (s *Store) ActiveSections(ctx context.Context) ([]SectionDefinition, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, section_key, type, rules, priority
		 FROM section_definitions WHERE is_active = 1
		 ORDER BY priority ASC, seq ASC`)
	if err != nil {
		return nil, apperr.DataAccess("failed to load section catalog", err)
	}
	defer rows.Close()

	var defs []SectionDefinition
	for rows.Next() {
		var (
			def     SectionDefinition
			rawRule sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.Key, &def.Type, &rawRule, &def.Priority); err != nil {
			return nil, apperr.DataAccess("failed to scan section definition", err)
		}
		def.IsActive = true
		if rawRule.Valid {
			node, err := rules.Parse([]byte(rawRule.String))
			if err != nil {
				log.Printf("[Store] Skipping section %s: malformed rule: %v", def.ID, err)
				continue
			}
			def.Rule = node
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("failed to iterate section catalog", err)
	}
	return defs, nil
}

// IssueProjectID returns the project owning issueID.
func (s *Store) IssueProjectID(ctx context.Context, issueID string) (string, error) {
	var projectID string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT project_id FROM issues WHERE id = ?`, issueID,
	).Scan(&projectID)
	if err != nil {
		return "", notFoundOr(err, "issue "+issueID)
	}
	return projectID, nil
}

// ProjectMemberIDs returns the user ids of every member of projectID.
func (s *Store) ProjectMemberIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM project_members WHERE project_id = ? ORDER BY joined_at, user_id`,
		projectID)
	if err != nil {
		return nil, apperr.DataAccess("failed to load project members", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// UserIDsByHandles resolves user handles to ids. Unknown handles are ignored.
func (s *Store) UserIDsByHandles(ctx context.Context, handles []string) ([]string, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(handles)), ",")
	args := make([]any, len(handles))
	for i, h := range handles {
		args[i] = h
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM users WHERE user_handle IN (`+placeholders+`) ORDER BY user_handle`,
		args...)
	if err != nil {
		return nil, apperr.DataAccess("failed to resolve user handles", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// SearchIssues returns the project's issues whose title contains query,
// case-insensitively, ordered by issue number.
func (s *Store) SearchIssues(ctx context.Context, projectID, query string) ([]Issue, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, issue_number, project_id, sprint_id, type, title, description, status,
		        priority, assignee_id, reporter_id, story_points, due_date
		 FROM issues
		 WHERE project_id = ? AND LOWER(title) LIKE '%' || LOWER(?) || '%'
		 ORDER BY issue_number`, projectID, query)
	if err != nil {
		return nil, apperr.DataAccess("failed to search issues", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var (
			is          Issue
			sprintID    sql.NullString
			description sql.NullString
			assigneeID  sql.NullString
			reporterID  sql.NullString
			storyPoints sql.NullInt64
			dueDate     sql.NullInt64
		)
		if err := rows.Scan(&is.ID, &is.Number, &is.ProjectID, &sprintID, &is.Type, &is.Title,
			&description, &is.Status, &is.Priority, &assigneeID, &reporterID, &storyPoints, &dueDate); err != nil {
			return nil, apperr.DataAccess("failed to scan issue", err)
		}
		is.SprintID = sprintID.String
		is.Description = description.String
		is.AssigneeID = assigneeID.String
		is.ReporterID = reporterID.String
		if storyPoints.Valid {
			points := int(storyPoints.Int64)
			is.StoryPoints = &points
		}
		is.DueDate = timePtr(dueDate)
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("failed to iterate issues", err)
	}
	return issues, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperr.DataAccess("failed to scan row", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("failed to iterate rows", err)
	}
	return out, nil
}
