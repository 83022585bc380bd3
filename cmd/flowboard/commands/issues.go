package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/flowboard/internal/printer"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/spf13/cobra"
)

// minSearchQuery is the shortest accepted search term.
const minSearchQuery = 2

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Query issues in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var issuesSearchCmd = &cobra.Command{
	Use:   "search PROJECT_ID QUERY",
	Short: "Find a project's issues by title",
	Long: `Find the issues of a project whose title contains QUERY, ignoring
case. Results are ordered by issue number.

Example:
  flowboard issues search p-apollo login`,
	Args: cobra.ExactArgs(2),
	RunE: runIssuesSearch,
}

func init() {
	issuesCmd.AddCommand(issuesSearchCmd)
	rootCmd.AddCommand(issuesCmd)
}

type issueSearcher interface {
	SearchIssues(ctx context.Context, projectID, query string) ([]store.Issue, error)
}

func runIssuesSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	return searchIssues(cmd.Context(), st, args[0], args[1], printer.Stdout)
}

func searchIssues(ctx context.Context, src issueSearcher, projectID, query string, w io.Writer) error {
	query = strings.TrimSpace(query)
	if len(query) < minSearchQuery {
		return printer.Error("query too short",
			fmt.Sprintf("Search query must be at least %d characters.", minSearchQuery), nil)
	}

	issues, err := src.SearchIssues(ctx, projectID, query)
	if err != nil {
		return fmt.Errorf("failed to search issues: %w", err)
	}
	if len(issues) == 0 {
		fmt.Fprintf(w, "No issues in %s match %q\n", projectID, query)
		return nil
	}

	for _, is := range issues {
		assignee := is.AssigneeID
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(w, "#%-5d %-8s %-12s %-10s %s\n", is.Number, is.Type, is.Status, assignee, is.Title)
	}
	return nil
}
