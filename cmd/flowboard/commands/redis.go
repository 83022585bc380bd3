package commands

import (
	"context"
	"fmt"

	dockerpkg "github.com/dyluth/flowboard/internal/docker"
	"github.com/dyluth/flowboard/internal/printer"
	"github.com/spf13/cobra"
)

const (
	firstRedisPort = 6379
	lastRedisPort  = 6478
)

var (
	redisPort  int
	redisImage string
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Manage a local Redis for development",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var redisUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a Redis container for the instance",
	Long: `Start a Redis container on an isolated Docker network, bound to
127.0.0.1. The first free port from 6379 is used unless --port is given.

Containers and networks are labelled with the instance name, so several
instances can run side by side.`,
	Args: cobra.NoArgs,
	RunE: runRedisUp,
}

var redisDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the instance's Redis container and network",
	Args:  cobra.NoArgs,
	RunE:  runRedisDown,
}

func init() {
	redisUpCmd.Flags().IntVar(&redisPort, "port", 0, "Host port (first free port from 6379 if omitted)")
	redisUpCmd.Flags().StringVar(&redisImage, "image", dockerpkg.DefaultRedisImage, "Redis image")

	redisCmd.AddCommand(redisUpCmd, redisDownCmd)
	rootCmd.AddCommand(redisCmd)
}

func runRedisUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	exists, err := dockerpkg.InstanceExists(ctx, cli, cfg.Instance)
	if err != nil {
		return err
	}
	if exists {
		return printer.Error(
			fmt.Sprintf("instance '%s' already has a Redis", cfg.Instance),
			fmt.Sprintf("Found existing containers labelled %s.", dockerpkg.InstanceFilter(cfg.Instance)),
			[]string{
				fmt.Sprintf("Stop it first: flowboard redis down --name %s", cfg.Instance),
				"Choose a different name: flowboard redis up --name other-name",
			},
		)
	}

	port := redisPort
	if port == 0 {
		port, err = nextFreePort(firstRedisPort, lastRedisPort, dockerpkg.PortAvailable)
		if err != nil {
			return err
		}
	}

	opts := dockerpkg.RedisOptions{Instance: cfg.Instance, Image: redisImage, Port: port}
	if err := dockerpkg.StartRedis(ctx, cli, opts, printer.Stdout); err != nil {
		return fmt.Errorf("failed to start Redis: %w", err)
	}

	printer.Success("\nRedis for instance '%s' is running\n\n", cfg.Instance)
	printer.Info("Point the engine at it:\n  export REDIS_URL=%s\n", opts.RedisURL())
	return nil
}

func runRedisDown(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	exists, err := dockerpkg.InstanceExists(ctx, cli, cfg.Instance)
	if err != nil {
		return err
	}
	if !exists {
		return printer.Error(
			fmt.Sprintf("instance '%s' not found", cfg.Instance),
			fmt.Sprintf("No containers found with instance name '%s'.", cfg.Instance),
			[]string{"Start one with: flowboard redis up"},
		)
	}

	if err := dockerpkg.RemoveInstance(ctx, cli, cfg.Instance, printer.Stdout); err != nil {
		return err
	}

	printer.Success("\nInstance '%s' removed successfully\n", cfg.Instance)
	return nil
}

// nextFreePort returns the first port in [first, last] that available accepts.
func nextFreePort(first, last int, available func(int) bool) (int, error) {
	for port := first; port <= last; port++ {
		if available(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", first, last)
}
