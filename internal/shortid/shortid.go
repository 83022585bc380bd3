// Package shortid expands the id prefixes accepted by the events commands.
package shortid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/store"
)

// MinLength is the minimum accepted prefix length.
const MinLength = 6

// maxCandidates bounds the prefix scan; one extra proves ambiguity.
const maxCandidates = 11

// Lookup finds event log entries by id or id prefix.
type Lookup interface {
	GetEvent(ctx context.Context, id string) (store.Event, error)
	EventIDsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Resolve expands shortID to a full event id.
//
// A full UUID is checked for existence. Anything shorter than MinLength is
// rejected. A prefix must match exactly one entry.
func Resolve(ctx context.Context, lookup Lookup, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))

	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		if _, err := lookup.GetEvent(ctx, shortID); err != nil {
			if apperr.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify event existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinLength, len(shortID))
	}

	matches, err := lookup.EventIDsWithPrefix(ctx, shortID, maxCandidates)
	if err != nil {
		return "", fmt.Errorf("failed to search for event: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no event matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no events found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several events matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	if len(e.Matches) >= maxCandidates {
		return fmt.Sprintf("ambiguous short ID '%s' matches more than %d events", e.ShortID, maxCandidates-1)
	}
	return fmt.Sprintf("ambiguous short ID '%s' matches %d events", e.ShortID, len(e.Matches))
}

// Suggestions lists the candidate ids for display, up to ten.
func (e *AmbiguousError) Suggestions() []string {
	if len(e.Matches) > maxCandidates-1 {
		return e.Matches[:maxCandidates-1]
	}
	return e.Matches
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAmbiguous reports whether err is an AmbiguousError.
func IsAmbiguous(err error) bool {
	var target *AmbiguousError
	return errors.As(err, &target)
}
