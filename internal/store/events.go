package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/google/uuid"
)

// Event is one entry of the durable change-event log. ProcessedAt and Error
// are mutually exclusive and set at most once.
type Event struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	ChangeType  string          `json:"change_type"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Status reports the lifecycle state of the entry.
func (e Event) Status() string {
	switch {
	case e.Error != "":
		return "failed"
	case e.ProcessedAt != nil:
		return "processed"
	default:
		return "logged"
	}
}

// ChangeEvent decodes the logged payload.
func (e Event) ChangeEvent() (*board.ChangeEvent, error) {
	return board.DecodeChangeEvent(e.Payload)
}

// EventFilter narrows ListEvents. Zero values disable a bound.
type EventFilter struct {
	Since      time.Time
	Until      time.Time
	FailedOnly bool
	Limit      int
}

// AppendEvent durably logs a change event and returns the new entry id.
func (s *Store) AppendEvent(ctx context.Context, ev *board.ChangeEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal change event: %w", err)
	}
	id := uuid.NewString()
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO webhook_events (id, table_name, event_type, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, string(ev.Table), string(ev.ChangeType), string(payload), toMillis(s.now()))
	if err != nil {
		return "", apperr.DataAccess("failed to log change event", err)
	}
	return id, nil
}

// MarkProcessed records successful processing of an entry.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	return s.annotate(ctx, id,
		`UPDATE webhook_events SET processed_at = ?
		 WHERE id = ? AND processed_at IS NULL AND error IS NULL`,
		toMillis(s.now()), id)
}

// MarkFailed records a processing failure on an entry.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return s.annotate(ctx, id,
		`UPDATE webhook_events SET error = ?
		 WHERE id = ? AND processed_at IS NULL AND error IS NULL`,
		message, id)
}

func (s *Store) annotate(ctx context.Context, id, query string, args ...any) error {
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.DataAccess("failed to annotate event "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.DataAccess("failed to annotate event "+id, err)
	}
	if n == 0 {
		return fmt.Errorf("event %s is missing or already annotated", id)
	}
	return nil
}

// GetEvent returns one log entry by full id.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, table_name, event_type, payload, received_at, processed_at, error
		 FROM webhook_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return Event{}, notFoundOr(err, "event "+id)
	}
	return ev, nil
}

// EventIDsWithPrefix returns up to limit entry ids starting with prefix.
func (s *Store) EventIDsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM webhook_events WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT ?`,
		escaped+"%", limit)
	if err != nil {
		return nil, apperr.DataAccess("failed to search events", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListEvents returns log entries in received order.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "received_at <= ?")
		args = append(args, toMillis(filter.Until))
	}
	if filter.FailedOnly {
		where = append(where, "error IS NOT NULL")
	}

	query := `SELECT id, table_name, event_type, payload, received_at, processed_at, error
	          FROM webhook_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.DataAccess("failed to list events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.DataAccess("failed to scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("failed to iterate events", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		ev          Event
		payload     string
		receivedAt  int64
		processedAt sql.NullInt64
		errMsg      sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.Table, &ev.ChangeType, &payload, &receivedAt, &processedAt, &errMsg); err != nil {
		return Event{}, err
	}
	ev.Payload = json.RawMessage(payload)
	ev.ReceivedAt = fromMillis(receivedAt)
	ev.ProcessedAt = timePtr(processedAt)
	ev.Error = errMsg.String
	return ev, nil
}
