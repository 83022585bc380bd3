// Package layout builds the fact record for a user in a project and resolves
// the ordered list of visible sections from the section catalog.
package layout

import (
	"context"
	"log"
	"time"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/store"
	"golang.org/x/sync/errgroup"
)

var logf = log.Printf

// SprintStatusNone is the sprintStatus fact when the project has no active sprint.
const SprintStatusNone = "none"

// ContextStore is the read side of the persistence layer used by Builder.
type ContextStore interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetMembership(ctx context.Context, projectID, userID string) (store.Member, error)
	GetActiveSprint(ctx context.Context, projectID string) (*store.Sprint, error)
	CountAssignedIssues(ctx context.Context, projectID, userID string) (int, error)
	HasOverdueIssues(ctx context.Context, projectID string, now time.Time) (bool, error)
	CountOpenBugs(ctx context.Context, projectID string) (int, error)
}

// UserContext is the fact record for one user in one project. It is built
// fresh for every layout resolution and never mutated afterwards.
type UserContext struct {
	UserID           string `json:"userId"`
	UserHandle       string `json:"userHandle"`
	IsManager        bool   `json:"isManager"`
	ProjectID        string `json:"projectId"`
	ProjectType      string `json:"projectType"`
	Role             string `json:"role"`
	SprintStatus     string `json:"sprintStatus"`
	DaysInProject    int    `json:"daysInProject"`
	IssuesAssigned   int    `json:"issuesAssigned"`
	HasOverdueIssues bool   `json:"hasOverdueIssues"`
	OpenBugs         int    `json:"openBugs"`
	Hour             int    `json:"hour"`
}

// Fact implements rules.Facts.
func (c *UserContext) Fact(name string) (any, bool) {
	switch name {
	case "userId":
		return c.UserID, true
	case "userHandle":
		return c.UserHandle, true
	case "isManager":
		return c.IsManager, true
	case "projectId":
		return c.ProjectID, true
	case "projectType":
		return c.ProjectType, true
	case "role":
		return c.Role, true
	case "sprintStatus":
		return c.SprintStatus, true
	case "daysInProject":
		return c.DaysInProject, true
	case "issuesAssigned":
		return c.IssuesAssigned, true
	case "hasOverdueIssues":
		return c.HasOverdueIssues, true
	case "openBugs":
		return c.OpenBugs, true
	case "hour":
		return c.Hour, true
	default:
		return nil, false
	}
}

// Builder assembles UserContexts from storage.
type Builder struct {
	store ContextStore
	now   func() time.Time
}

// NewBuilder creates a Builder reading from s.
func NewBuilder(s ContextStore) *Builder {
	return &Builder{store: s, now: time.Now}
}

// Build gathers every fact for userID in projectID. All sub-fetches run
// concurrently; the first failure cancels the rest and fails the build.
// A missing user, project or membership yields a NotFound error.
func (b *Builder) Build(ctx context.Context, userID, projectID string) (*UserContext, error) {
	now := b.now()

	var (
		user     store.User
		project  store.Project
		member   store.Member
		sprint   *store.Sprint
		assigned int
		overdue  bool
		openBugs int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		user, err = b.store.GetUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		member, err = b.store.GetMembership(gctx, projectID, userID)
		return err
	})
	g.Go(func() (err error) {
		project, err = b.store.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		sprint, err = b.store.GetActiveSprint(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		assigned, err = b.store.CountAssignedIssues(gctx, projectID, userID)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = b.store.HasOverdueIssues(gctx, projectID, now)
		return err
	})
	g.Go(func() (err error) {
		openBugs, err = b.store.CountOpenBugs(gctx, projectID)
		return err
	})

	if err := g.Wait(); err != nil {
		if apperr.KindOf(err) == "" {
			return nil, apperr.DataAccess("failed to build user context", err)
		}
		return nil, err
	}

	sprintStatus := SprintStatusNone
	if sprint != nil {
		sprintStatus = sprint.Status
	}

	return &UserContext{
		UserID:           userID,
		UserHandle:       user.Handle,
		IsManager:        user.IsManager,
		ProjectID:        projectID,
		ProjectType:      project.Type,
		Role:             member.Role,
		SprintStatus:     sprintStatus,
		DaysInProject:    int(now.Sub(member.JoinedAt) / (24 * time.Hour)),
		IssuesAssigned:   assigned,
		HasOverdueIssues: overdue,
		OpenBugs:         openBugs,
		Hour:             now.Hour(),
	}, nil
}
