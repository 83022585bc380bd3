package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/dyluth/flowboard/internal/printer"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish FILE",
	Short: "Publish a change event to the instance's change-event channel",
	Long: `Publish a change event read from FILE ("-" for stdin) to the
change-event channel. A running engine logs and processes it exactly as
if it had arrived on the webhook.

Example:
  echo '{"type":"UPDATE","table":"issues","record":{"id":"i-1","project_id":"p-1","status":"done"},"old_record":{"status":"todo"}}' \
    | flowboard publish -`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	ev, err := board.DecodeChangeEvent(data)
	if err != nil {
		return printer.Error("invalid change event", err.Error(), []string{
			`Expected {"type": "INSERT|UPDATE|DELETE", "table": "...", "record": {...}, "old_record": {...}}`,
		})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bb, err := connectBoard(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer bb.Close()

	if err := bb.PublishChangeEvent(cmd.Context(), ev); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	printer.Success("Published %s on %s to %s\n", ev.ChangeType, ev.Table, board.ChangeEventsChannel(cfg.Instance))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
