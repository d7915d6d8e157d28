// Package datetime provides standardized date handling across the application.
// All dates are stored and transmitted in UTC using ISO 8601 format.
package datetime

import (
	"encoding/json"
	"strings"
	"time"
)

// DateFormat is the standard date-only format (YYYY-MM-DD).
const DateFormat = "2006-01-02"

// Date represents a date-only value (no time component).
// It serializes to/from JSON as "YYYY-MM-DD" format.
type Date struct {
	time.Time
}

// NewDate creates a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime returns the UTC date of t, or nil when t is nil.
func FromTime(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	u := t.UTC()
	d := NewDate(u.Year(), u.Month(), u.Day())
	return &d
}

// ParseDate parses a date in YYYY-MM-DD format, falling back to RFC3339 and
// keeping only the date portion.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err == nil {
		return Date{t}, nil
	}
	t, rfcErr := time.Parse(time.RFC3339, s)
	if rfcErr != nil {
		return Date{}, err
	}
	return Date{StartOfDay(t)}, nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateFormat))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), "\"")
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// String returns the date in YYYY-MM-DD format.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateFormat)
}

// StartOfDay returns the datetime at 00:00:00 UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WholeMonthsBetween counts the complete calendar months from from to to.
// A month only counts once its day-of-month has been reached, so Jan 31 to
// Feb 28 is zero months. The result is never negative.
func WholeMonthsBetween(from, to time.Time) int {
	from, to = StartOfDay(from), StartOfDay(to)
	if !to.After(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
