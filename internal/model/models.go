package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout for snapshot and asset
// timestamps. Fixed width keeps lexicographic and chronological order equal.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp converts t to the precision snapshots persist: UTC, microseconds.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return Timestamp(t).Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp and returns it in UTC.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return Timestamp(t), nil
}

// Meta is the metadata section of a snapshot.
type Meta struct {
	Timestamp time.Time
	Tag       string
	Scanner   string
}

// Tagged reports whether the snapshot carries a user tag.
func (m Meta) Tagged() bool {
	return m.Tag != ""
}

type metaRecord struct {
	Timestamp string  `json:"timestamp"`
	Tag       *string `json:"tag"`
	Scanner   *string `json:"scanner"`
}

func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(metaRecord{
		Timestamp: FormatTime(m.Timestamp),
		Tag:       optional(m.Tag),
		Scanner:   optional(m.Scanner),
	})
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	var rec metaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	ts, err := ParseTime(rec.Timestamp)
	if err != nil {
		return fmt.Errorf("meta timestamp: %w", err)
	}
	*m = Meta{Timestamp: ts}
	if rec.Tag != nil {
		m.Tag = *rec.Tag
	}
	if rec.Scanner != nil {
		m.Scanner = *rec.Scanner
	}
	return nil
}

// Document is the persisted form of one snapshot.
type Document struct {
	Meta   Meta   `json:"meta"`
	Assets Assets `json:"assets"`
}

// Validate checks that every asset is keyed by its own identity.
func (d Document) Validate() error {
	for key, asset := range d.Assets {
		if key != asset.ID {
			return fmt.Errorf("asset key %q does not match id %q", key, asset.ID)
		}
	}
	return nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
