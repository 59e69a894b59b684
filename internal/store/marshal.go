package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// marshalJSON converts a value to canonical JSON TEXT for storage.
func marshalJSON(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// marshalList is marshalJSON with nil slices stored as "[]".
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	return marshalJSON(items)
}

// marshalObject is marshalJSON with nil maps stored as "{}".
func marshalObject[V any](m map[string]V) (string, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

// marshalCondition stores an absent condition as NULL.
func marshalCondition(c ir.Condition) (sql.NullString, error) {
	if c.IsZero() {
		return sql.NullString{}, nil
	}
	s, err := marshalJSON(c)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalJSON parses stored JSON TEXT. Empty text leaves v untouched.
func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}

// nilIfEmpty maps a stored "[]" back to the nil slice it was written from.
func nilIfEmpty[T any](items []T) []T {
	if len(items) == 0 {
		return nil
	}
	return items
}

func unmarshalCondition(ns sql.NullString) ir.Condition {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return ir.Condition(ns.String)
}

// Timestamps are stored as UTC RFC 3339 text with nanoseconds.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
