// Package seed loads fixture data into the store from a JSON-with-comments
// file.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dyluth/flowboard/internal/store"
	"github.com/tidwall/jsonc"
)

// File is the shape of a seed file. Rows are inserted in field order so
// later kinds may reference earlier ones.
type File struct {
	Users    []store.User    `json:"users"`
	Projects []store.Project `json:"projects"`
	Members  []store.Member  `json:"members"`
	Sprints  []store.Sprint  `json:"sprints"`
	Issues   []store.Issue   `json:"issues"`
	Comments []store.Comment `json:"comments"`
	Sections []Section       `json:"sections"`
}

// Section is a catalog entry. is_active defaults to true when omitted.
type Section struct {
	store.SectionDefinition
	Active *bool `json:"is_active,omitempty"`
}

// Definition returns the stored form of s.
func (s Section) Definition() store.SectionDefinition {
	def := s.SectionDefinition
	def.IsActive = s.Active == nil || *s.Active
	return def
}

// Summary counts what was inserted.
type Summary struct {
	Users    int
	Projects int
	Members  int
	Sprints  int
	Issues   int
	Comments int
	Sections int
}

// Writer is the write side of the store.
type Writer interface {
	CreateUser(ctx context.Context, u *store.User) error
	CreateProject(ctx context.Context, p *store.Project) error
	AddMember(ctx context.Context, m *store.Member) error
	CreateSprint(ctx context.Context, sp *store.Sprint) error
	CreateIssue(ctx context.Context, is *store.Issue) error
	CreateComment(ctx context.Context, c *store.Comment) error
	UpsertSection(ctx context.Context, def *store.SectionDefinition) error
}

// Parse decodes seed data. Comments and trailing commas are allowed.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed data: %w", err)
	}
	return &f, nil
}

// ReadFile reads and parses the seed file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Apply inserts every row of f. It stops at the first failure and reports
// which row failed; rows inserted before it are kept.
func Apply(ctx context.Context, w Writer, f *File) (Summary, error) {
	var sum Summary

	for i := range f.Users {
		if err := w.CreateUser(ctx, &f.Users[i]); err != nil {
			return sum, fmt.Errorf("user %q: %w", f.Users[i].Handle, err)
		}
		sum.Users++
	}
	for i := range f.Projects {
		if err := w.CreateProject(ctx, &f.Projects[i]); err != nil {
			return sum, fmt.Errorf("project %q: %w", f.Projects[i].Key, err)
		}
		sum.Projects++
	}
	for i := range f.Members {
		m := &f.Members[i]
		if err := w.AddMember(ctx, m); err != nil {
			return sum, fmt.Errorf("member %s of %s: %w", m.UserID, m.ProjectID, err)
		}
		sum.Members++
	}
	for i := range f.Sprints {
		if err := w.CreateSprint(ctx, &f.Sprints[i]); err != nil {
			return sum, fmt.Errorf("sprint %q: %w", f.Sprints[i].Name, err)
		}
		sum.Sprints++
	}
	for i := range f.Issues {
		if err := w.CreateIssue(ctx, &f.Issues[i]); err != nil {
			return sum, fmt.Errorf("issue %q: %w", f.Issues[i].Title, err)
		}
		sum.Issues++
	}
	for i := range f.Comments {
		if err := w.CreateComment(ctx, &f.Comments[i]); err != nil {
			return sum, fmt.Errorf("comment on %s: %w", f.Comments[i].IssueID, err)
		}
		sum.Comments++
	}
	for _, s := range f.Sections {
		def := s.Definition()
		if err := w.UpsertSection(ctx, &def); err != nil {
			return sum, fmt.Errorf("section %q: %w", def.Key, err)
		}
		sum.Sections++
	}

	return sum, nil
}
