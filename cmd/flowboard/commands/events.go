package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/flowboard/internal/eventlog"
	"github.com/dyluth/flowboard/internal/printer"
	"github.com/dyluth/flowboard/internal/shortid"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/dyluth/flowboard/internal/timespec"
	"github.com/dyluth/flowboard/internal/watch"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/spf13/cobra"
)

var (
	eventsOutputFormat string
	eventsSince        string
	eventsUntil        string
	eventsTable        string
	eventsFailed       bool
	eventsLimit        int
	watchOutputFormat  string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and replay the change-event log",
	Long: `Inspect the durable change-event log.

Every change event received by the engine is logged before it is
processed, then marked processed or failed. Entries are never modified
after that; 'replay' publishes a copy as a new event.

Short IDs (e.g. "3f2a91") are accepted wherever an event ID is expected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged change events",
	Long: `List logged change events, newest first.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one event per line

Examples:
  # Failures in the last hour
  flowboard events list --failed --since=1h

  # Issue events as JSONL for jq
  flowboard events list --table="issue*" -o jsonl | jq .payload`,
	Args: cobra.NoArgs,
	RunE: runEventsList,
}

var eventsShowCmd = &cobra.Command{
	Use:   "show EVENT_ID",
	Short: "Show one logged change event as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsShow,
}

var eventsReplayCmd = &cobra.Command{
	Use:   "replay EVENT_ID",
	Short: "Publish a logged change event again",
	Long: `Publish the payload of a logged change event to the change-event
channel of the instance. A running engine logs and processes it as a new
event; the original entry is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runEventsReplay,
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream change events as they are published",
	Long: `Stream change events from the instance's change-event channel as they
are published. Events posted to the webhook are not shown; they do not
pass through the channel.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing`,
	Args: cobra.NoArgs,
	RunE: runEventsWatch,
}

func init() {
	eventsWatchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or json")
	eventsListCmd.Flags().StringVarP(&eventsOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	eventsListCmd.Flags().StringVar(&eventsSince, "since", "", "Show events received after time (duration or RFC3339)")
	eventsListCmd.Flags().StringVar(&eventsUntil, "until", "", "Show events received before time (duration or RFC3339)")
	eventsListCmd.Flags().StringVar(&eventsTable, "table", "", "Filter by table (glob pattern)")
	eventsListCmd.Flags().BoolVar(&eventsFailed, "failed", false, "Only show failed events")
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Maximum number of events (0 = no limit)")

	eventsCmd.AddCommand(eventsListCmd, eventsShowCmd, eventsReplayCmd, eventsWatchCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsList(cmd *cobra.Command, args []string) error {
	var format eventlog.OutputFormat
	switch eventsOutputFormat {
	case "default":
		format = eventlog.OutputFormatDefault
	case "jsonl":
		format = eventlog.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", eventsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	now := time.Now()
	since, until, err := timespec.ParseRange(eventsSince, eventsUntil, now)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration (30m, 2h) or an RFC3339 timestamp (2026-10-01T09:00:00Z)",
		})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	filters := &eventlog.FilterCriteria{
		Since:      since,
		Until:      until,
		FailedOnly: eventsFailed,
		TableGlob:  eventsTable,
		Limit:      eventsLimit,
	}
	return eventlog.List(cmd.Context(), st, cfg.Instance, format, filters, now, os.Stdout)
}

func runEventsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := eventlog.Show(cmd.Context(), st, args[0], os.Stdout); err != nil {
		return lookupError(err)
	}
	return nil
}

func runEventsReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	bb, err := connectBoard(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer bb.Close()

	return replayEvent(cmd.Context(), st, bb, args[0], printer.Stdout)
}

func runEventsWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bb, err := connectBoard(ctx, cfg)
	if err != nil {
		return err
	}
	defer bb.Close()

	return watch.StreamChangeEvents(ctx, bb, format, time.Now, os.Stdout)
}

// changePublisher puts change events on the bus.
type changePublisher interface {
	PublishChangeEvent(ctx context.Context, ev *board.ChangeEvent) error
}

func replayEvent(ctx context.Context, src shortid.Lookup, pub changePublisher, idOrPrefix string, w io.Writer) error {
	entry, err := eventlog.Get(ctx, src, idOrPrefix)
	if err != nil {
		return lookupError(err)
	}

	ev, err := entry.ChangeEvent()
	if err != nil {
		return printer.Error(
			"event cannot be replayed",
			fmt.Sprintf("The logged payload of %s is not a valid change event: %v", entry.ID, err),
			nil,
		)
	}

	if err := pub.PublishChangeEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to replay event %s: %w", entry.ID, err)
	}

	fmt.Fprintf(w, "✓ Replayed %s (%s on %s)\n", entry.ID, ev.ChangeType, ev.Table)
	return nil
}

// lookupError turns short-ID resolution failures into printed errors.
func lookupError(err error) error {
	var ambiguous *shortid.AmbiguousError
	switch {
	case shortid.IsNotFound(err):
		return printer.Error("event not found", err.Error(), []string{"List events: flowboard events list"})
	case errors.As(err, &ambiguous):
		return printer.Error(
			"ambiguous event ID",
			fmt.Sprintf("%s:\n  %s", err.Error(), strings.Join(ambiguous.Suggestions(), "\n  ")),
			[]string{"Use a longer prefix or the full ID"},
		)
	default:
		return err
	}
}
