package storage

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// sqliteTimeFormat has a fixed width so stored timestamps sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// marshalStrings converts a string slice to a JSON array.
func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal strings: %w", err)
	}
	return string(b), nil
}

// unmarshalStrings converts a JSON array back to a string slice. An empty
// column yields an empty, non-nil slice.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strings: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
