package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullString maps the empty string to SQL NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// jsonColumn marshals v for a JSONB column, NULL when v is empty
func jsonColumn(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		return []byte(val), nil
	case map[string]interface{}:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}

// utc normalizes a scanned timestamp so canonical encodings use the Z suffix
func utc(t time.Time) time.Time {
	return t.UTC()
}

func scannedString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
