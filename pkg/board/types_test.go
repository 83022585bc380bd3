package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   ChangeEvent
		wantErr string
	}{
		{
			name:  "valid update",
			event: ChangeEvent{ChangeType: ChangeUpdate, Table: TableIssues, Record: map[string]any{"id": "1"}, PreviousRecord: map[string]any{"id": "1"}},
		},
		{
			name:  "delete with only old record",
			event: ChangeEvent{ChangeType: ChangeDelete, Table: TableIssues, PreviousRecord: map[string]any{"id": "1"}},
		},
		{
			name:  "lowercase change type is normalized",
			event: ChangeEvent{ChangeType: "insert", Table: TableComments, Record: map[string]any{"id": "1"}},
		},
		{
			name:    "unknown change type",
			event:   ChangeEvent{ChangeType: "TRUNCATE", Table: TableIssues, Record: map[string]any{}},
			wantErr: "unknown change type",
		},
		{
			name:    "missing table",
			event:   ChangeEvent{ChangeType: ChangeInsert, Record: map[string]any{}},
			wantErr: "table cannot be empty",
		},
		{
			name:    "no row image",
			event:   ChangeEvent{ChangeType: ChangeInsert, Table: TableIssues},
			wantErr: "neither record nor old_record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeChangeEvent(t *testing.T) {
	ev, err := DecodeChangeEvent([]byte(`{"type":"DELETE","table":"issues","record":null,"old_record":{"id":"i1","project_id":"p1"}}`))
	require.NoError(t, err)
	assert.Equal(t, ChangeDelete, ev.ChangeType)
	assert.Nil(t, ev.Record)
	assert.Equal(t, "p1", FirstNonEmpty(ev.Record, ev.PreviousRecord, "project_id"))

	_, err = DecodeChangeEvent([]byte(`{"type":"DELETE"}`))
	assert.Error(t, err)

	raw, err := UnmarshalChangeEvent([]byte(`{"type":"DELETE"}`))
	require.NoError(t, err, "parsing alone does not validate")
	assert.Equal(t, ChangeDelete, raw.ChangeType)

	_, err = UnmarshalChangeEvent([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestRowFieldHelpers(t *testing.T) {
	row := map[string]any{
		"id":       "abc",
		"number":   float64(42),
		"null":     nil,
		"mentions": []any{"alice", 7, "", "bob"},
	}

	assert.Equal(t, "abc", StringField(row, "id"))
	assert.Equal(t, "42", StringField(row, "number"))
	assert.Equal(t, "", StringField(row, "null"))
	assert.Equal(t, "", StringField(row, "missing"))
	assert.Equal(t, "", StringField(nil, "id"))

	assert.True(t, HasField(row, "null"))
	assert.False(t, HasField(row, "missing"))

	assert.Equal(t, []string{"alice", "bob"}, StringSliceField(row, "mentions"))
	assert.Nil(t, StringSliceField(row, "id"))

	assert.Equal(t, "abc", FirstNonEmpty(row, map[string]any{"id": "old"}, "id"))
	assert.Equal(t, "old", FirstNonEmpty(nil, map[string]any{"id": "old"}, "id"))
}

func TestLayoutKeys(t *testing.T) {
	assert.Equal(t, "flowboard:prod:layout:u1:p1", LayoutKey("prod", "u1", "p1"))
	assert.Equal(t, "flowboard:prod:change_events", ChangeEventsChannel("prod"))
}

func TestEncodeDecodeLayout_NilBecomesEmpty(t *testing.T) {
	data, err := EncodeLayout(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	layout, err := DecodeLayout(data)
	require.NoError(t, err)
	assert.NotNil(t, layout)
	assert.Empty(t, layout)
}
