// Package eventlog renders the durable change-event log for the events
// commands.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/flowboard/internal/shortid"
	"github.com/dyluth/flowboard/internal/store"
)

// OutputFormat specifies how to format the event list output.
type OutputFormat string

const (
	// OutputFormatDefault prints a table
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL prints complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source is the event log.
type Source interface {
	shortid.Lookup
	ListEvents(ctx context.Context, filter store.EventFilter) ([]store.Event, error)
}

// FilterCriteria narrows List. All filters are ANDed together.
type FilterCriteria struct {
	Since      time.Time
	Until      time.Time
	FailedOnly bool
	TableGlob  string // glob on the table name, empty = no filter
	Limit      int
}

func (fc *FilterCriteria) matchesFilter(ev store.Event) bool {
	if fc.TableGlob == "" {
		return true
	}
	matched, err := filepath.Match(fc.TableGlob, ev.Table)
	return err == nil && matched
}

// List writes the events matching filters in received order.
func List(ctx context.Context, src Source, instanceName string, format OutputFormat, filters *FilterCriteria, now time.Time, w io.Writer) error {
	var storeFilter store.EventFilter
	if filters != nil {
		storeFilter = store.EventFilter{
			Since:      filters.Since,
			Until:      filters.Until,
			FailedOnly: filters.FailedOnly,
		}
		// The table glob is applied here, so the limit can only be pushed
		// down when there is no glob.
		if filters.TableGlob == "" {
			storeFilter.Limit = filters.Limit
		}
	}

	events, err := src.ListEvents(ctx, storeFilter)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if filters != nil {
		kept := events[:0]
		for _, ev := range events {
			if filters.matchesFilter(ev) {
				kept = append(kept, ev)
			}
		}
		events = kept
		if filters.Limit > 0 && len(events) > filters.Limit {
			events = events[:filters.Limit]
		}
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, events, instanceName, now)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, events); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// Get resolves idOrPrefix and returns the entry.
func Get(ctx context.Context, src shortid.Lookup, idOrPrefix string) (store.Event, error) {
	id, err := shortid.Resolve(ctx, src, idOrPrefix)
	if err != nil {
		return store.Event{}, err
	}
	ev, err := src.GetEvent(ctx, id)
	if err != nil {
		return store.Event{}, fmt.Errorf("failed to fetch event: %w", err)
	}
	return ev, nil
}

// Show writes one entry as pretty-printed JSON.
func Show(ctx context.Context, src shortid.Lookup, idOrPrefix string, w io.Writer) error {
	ev, err := Get(ctx, src, idOrPrefix)
	if err != nil {
		return err
	}
	if err := FormatSingleJSON(w, ev); err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}
	return nil
}
