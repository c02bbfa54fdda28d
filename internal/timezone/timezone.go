// Package timezone is the single place where instants are converted to the
// reference zone (UTC) before any scheduling comparison happens.
package timezone

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted at ingress. Layouts without an offset are read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize returns t expressed in UTC.
func Normalize(t time.Time) time.Time {
	return t.UTC()
}

// Parse reads an instant with or without zone information and returns it in UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return Normalize(f())
}

// System is the wall clock in UTC.
var System Clock = ClockFunc(time.Now)

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
