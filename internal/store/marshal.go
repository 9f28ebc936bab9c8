package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// timeLayout is the TEXT representation for every timestamp column.
// Fractional seconds are fixed width and times are UTC, so the TEXT
// sorts in time order and ORDER BY on a time column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// parseTime accepts any RFC 3339 time, including rows written before
// timeLayout was fixed width.
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalContact converts an EmergencyContact to JSON TEXT for storage.
func marshalContact(c model.EmergencyContact) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal emergency contact: %w", err)
	}
	return string(data), nil
}

func unmarshalContact(data string) (model.EmergencyContact, error) {
	var c model.EmergencyContact
	if data == "" || data == "{}" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.EmergencyContact{}, fmt.Errorf("unmarshal emergency contact: %w", err)
	}
	return c, nil
}

// marshalStaff converts a staff id list to JSON TEXT. A nil list is stored as [].
func marshalStaff(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal staff ids: %w", err)
	}
	return string(data), nil
}

func unmarshalStaff(data string) ([]string, error) {
	ids := []string{}
	if data == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal staff ids: %w", err)
	}
	return ids, nil
}
