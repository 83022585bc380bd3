package board

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EncodeLayout serializes a layout for storage in the shared tier.
// A nil layout is stored as an empty JSON array so that a cached empty layout
// stays distinguishable from a miss.
func EncodeLayout(layout []ResolvedSection) ([]byte, error) {
	if layout == nil {
		layout = []ResolvedSection{}
	}
	data, err := json.Marshal(layout)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal layout: %w", err)
	}
	return data, nil
}

// DecodeLayout parses a layout previously written by EncodeLayout.
func DecodeLayout(data []byte) ([]ResolvedSection, error) {
	var layout []ResolvedSection
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
	}
	if layout == nil {
		layout = []ResolvedSection{}
	}
	return layout, nil
}

// DecodeChangeEvent parses and validates a change event payload.
func DecodeChangeEvent(data []byte) (*ChangeEvent, error) {
	ev, err := UnmarshalChangeEvent(data)
	if err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid change event: %w", err)
	}
	return ev, nil
}

// UnmarshalChangeEvent parses a change event payload without validating it.
// Ingress points use it so that malformed events still reach the event log.
func UnmarshalChangeEvent(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return &ev, nil
}

// StringField reads a column from a row image as a string.
// Missing and null columns yield "". Numbers are formatted without exponent.
func StringField(row map[string]any, column string) string {
	if row == nil {
		return ""
	}
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// HasField reports whether a column is present in a row image.
func HasField(row map[string]any, column string) bool {
	if row == nil {
		return false
	}
	_, ok := row[column]
	return ok
}

// StringSliceField reads a text-array column. Non-string elements are skipped.
func StringSliceField(row map[string]any, column string) []string {
	if row == nil {
		return nil
	}
	switch v := row[column].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// FirstNonEmpty returns the column from row, falling back to previous.
// Used to resolve identifiers on deletes where only the old row survives.
func FirstNonEmpty(row, previous map[string]any, column string) string {
	if v := StringField(row, column); v != "" {
		return v
	}
	return StringField(previous, column)
}
