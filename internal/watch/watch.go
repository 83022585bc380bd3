// Package watch streams change events from the bus to a terminal.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/flowboard/pkg/board"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is one JSON object per line.
	OutputFormatJSON OutputFormat = "json"
)

// EventSource is a pub/sub feed of change events.
type EventSource interface {
	SubscribeChangeEvents(ctx context.Context) (*board.Subscription, error)
}

type jsonLine struct {
	Timestamp string `json:"timestamp"`
	*board.ChangeEvent
}

// StreamChangeEvents writes every change event published on src until ctx
// is cancelled. Subscription errors are reported inline and do not stop the
// stream.
func StreamChangeEvents(ctx context.Context, src EventSource, format OutputFormat, now func() time.Time, w io.Writer) error {
	subscription, err := src.SubscribeChangeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change events: %w", err)
	}
	defer subscription.Close()

	if format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching change events (Ctrl+C to stop)...\n")
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if err := writeEvent(w, format, now(), ev); err != nil {
				return err
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			if format == OutputFormatDefault {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		}
	}
}

func writeEvent(w io.Writer, format OutputFormat, at time.Time, ev *board.ChangeEvent) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(jsonLine{Timestamp: at.UTC().Format(time.RFC3339), ChangeEvent: ev})
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	_, err := fmt.Fprintf(w, "[%s] %-6s %-16s %s\n", at.Format("15:04:05"), ev.ChangeType, ev.Table, describe(ev))
	return err
}

// describe names the row an event is about.
func describe(ev *board.ChangeEvent) string {
	id := board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "id")
	project := board.FirstNonEmpty(ev.Record, ev.PreviousRecord, "project_id")
	switch {
	case id != "" && project != "":
		return fmt.Sprintf("id=%s project=%s", id, project)
	case id != "":
		return "id=" + id
	case project != "":
		return "project=" + project
	default:
		return "-"
	}
}
