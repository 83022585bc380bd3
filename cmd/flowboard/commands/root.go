package commands

import (
	"fmt"

	"github.com/dyluth/flowboard/internal/config"
	"github.com/dyluth/flowboard/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath   string
	instanceFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowboard",
	Short: "FlowBoard - server-driven layout engine for project boards",
	Long: `FlowBoard decides which sections each user sees on a project board,
caches the answer in two tiers and pushes live updates to connected
browsers when the underlying data changes.

Run 'flowboard serve' to start the engine. The other commands seed data,
inspect the change-event log and manage a local Redis for development.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&instanceFlag, "name", "n", "", "Instance name (overrides the config file)")
}

// loadConfig reads the configuration and applies the --name override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s, or copy configs/flowboard.yml as a starting point", configPath)},
		)
	}

	if instanceFlag != "" {
		if err := config.ValidateInstanceName(instanceFlag); err != nil {
			return nil, printer.Error("invalid instance name", err.Error(), nil)
		}
		cfg.Instance = instanceFlag
	}
	return cfg, nil
}
