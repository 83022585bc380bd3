package eventlog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/flowboard/internal/store"
	"github.com/dyluth/flowboard/pkg/board"
)

// entry is the JSON view of a log entry.
type entry struct {
	store.Event
	Status string `json:"status"`
}

// FormatTable writes events as a table.
// Returns the number of events formatted.
func FormatTable(w io.Writer, events []store.Event, instanceName string, now time.Time) int {
	if len(events) == 0 {
		fmt.Fprintf(w, "No change events found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Change events for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-10s %-16s %-7s %-8s %s\n",
		"ID", "STATUS", "TABLE", "TYPE", "AGE", "DETAIL")
	fmt.Fprintf(w, "%-10s %-10s %-16s %-7s %-8s %s\n",
		"----------", "----------", "----------------", "-------", "--------", "----------------------------------------")

	for _, ev := range events {
		fmt.Fprintf(w, "%-10s %-10s %-16s %-7s %-8s %s\n",
			formatID(ev.ID),
			ev.Status(),
			ev.Table,
			ev.ChangeType,
			formatAge(ev.ReceivedAt, now),
			formatDetail(ev),
		)
	}

	noun := "event"
	if len(events) != 1 {
		noun = "events"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(events), noun)

	return len(events)
}

// FormatJSONL writes one JSON object per event per line, for jq and friends.
func FormatJSONL(w io.Writer, events []store.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(entry{Event: ev, Status: ev.Status()})
		if err != nil {
			return fmt.Errorf("failed to marshal event to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one event as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, ev store.Event) error {
	data, err := json.MarshalIndent(entry{Event: ev, Status: ev.Status()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates an id to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDetail shows the error of a failed entry, otherwise the row id.
func formatDetail(ev store.Event) string {
	if ev.Error != "" {
		return truncate(ev.Error, 40)
	}

	var change board.ChangeEvent
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		return "-"
	}
	id := board.FirstNonEmpty(change.Record, change.PreviousRecord, "id")
	if id == "" {
		return "-"
	}
	return truncate("id="+id, 40)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

// formatAge renders the time since t, like "2m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
