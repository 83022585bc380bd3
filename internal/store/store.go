// Package store is the SQLite-backed persistence collaborator for FlowBoard:
// the entity tables read by the context builder, the section catalog and the
// append-only change-event log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/rules"
	"github.com/dyluth/flowboard/internal/store/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrAlreadyExists is returned when an insert collides with a unique key.
var ErrAlreadyExists = errors.New("record already exists")

// Store persists FlowBoard state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// User is a person who can be a member of projects.
type User struct {
	ID         string    `json:"id"`
	Handle     string    `json:"user_handle"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	AvatarSeed string    `json:"avatar_seed"`
	IsManager  bool      `json:"is_manager"`
	CreatedAt  time.Time `json:"created_at"`
}

// Project is a board of issues. Type is "scrum" or "kanban".
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	Type       string    `json:"type"`
	OwnerID    string    `json:"owner_id"`
	IsArchived bool      `json:"is_archived"`
	CreatedAt  time.Time `json:"created_at"`
}

// Member links a user to a project with a role ("manager" or "developer").
type Member struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Sprint is a time-boxed iteration of a scrum project.
type Sprint struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Goal      string     `json:"goal,omitempty"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Issue is a unit of work. Number is assigned from the per-project counter.
type Issue struct {
	ID          string     `json:"id"`
	Number      int        `json:"issue_number"`
	ProjectID   string     `json:"project_id"`
	SprintID    string     `json:"sprint_id,omitempty"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	ReporterID  string     `json:"reporter_id,omitempty"`
	StoryPoints *int       `json:"story_points,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Comment is a remark on an issue. Mentions holds user handles.
type Comment struct {
	ID       string   `json:"id"`
	IssueID  string   `json:"issue_id"`
	AuthorID string   `json:"author_id"`
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

// SectionDefinition is one entry of the section catalog.
type SectionDefinition struct {
	ID       string      `json:"id"`
	Key      string      `json:"section_key"`
	Type     string      `json:"type"`
	Rule     *rules.Node `json:"rules,omitempty"`
	Priority int         `json:"priority"`
	IsActive bool        `json:"is_active"`
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// notFoundOr maps sql.ErrNoRows to a NotFound error and anything else to a
// DataAccess error.
func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(what + " not found")
	}
	return apperr.DataAccess("failed to load "+what, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
