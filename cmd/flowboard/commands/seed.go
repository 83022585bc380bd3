package commands

import (
	"fmt"

	"github.com/dyluth/flowboard/internal/printer"
	"github.com/dyluth/flowboard/internal/seed"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load users, projects, issues and sections from a seed file",
	Long: `Load fixture data into the store from a JSON file. Comments and
trailing commas are allowed.

Top-level keys: users, projects, members, sprints, issues, comments,
sections. Rows are inserted in that order; the first failing row stops
the load and rows before it are kept.

Example:
  flowboard seed configs/seed.jsonc`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := seed.ReadFile(args[0])
	if err != nil {
		return printer.Error("invalid seed file", err.Error(), nil)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sum, err := seed.Apply(cmd.Context(), st, f)
	if err != nil {
		return printer.ErrorWithContext(
			"seed failed",
			err.Error(),
			map[string]string{"File": args[0], "Store": cfg.Store.Path},
			[]string{"Seed into an empty store, or remove the rows that already exist"},
		)
	}

	printer.Success("Seeded %s\n", cfg.Store.Path)
	printer.Info("  users: %d, projects: %d, members: %d, sprints: %d\n", sum.Users, sum.Projects, sum.Members, sum.Sprints)
	printer.Info("  issues: %d, comments: %d, sections: %d\n", sum.Issues, sum.Comments, sum.Sections)
	return nil
}
