// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"fmt"
	"time"
)

const (
	// TimestampLayout is fixed width so stored values also sort as strings.
	TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
)

// FormatTimestamp renders t in UTC using TimestampLayout. The zero time renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ValidateDate checks the zero-padded YYYY-MM-DD form.
func ValidateDate(s string) error {
	if len(s) != len(DateLayout) {
		return Invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return Invalid("date", "must be YYYY-MM-DD")
	}
	return nil
}

// ValidateTime checks the zero-padded HH:MM form.
func ValidateTime(s string) error {
	if len(s) != len(TimeLayout) {
		return Invalid("time", "must be HH:MM")
	}
	if _, err := time.Parse(TimeLayout, s); err != nil {
		return Invalid("time", "must be HH:MM")
	}
	return nil
}

// SplitDateTime returns the local calendar date and time of day of t.
func SplitDateTime(t time.Time) (date, clock string) {
	return t.Format(DateLayout), t.Format(TimeLayout)
}
