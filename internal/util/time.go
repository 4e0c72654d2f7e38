package util

import (
	"sync"
	"time"
)

const (
	// DateFormat is the storage and display format for calendar dates.
	DateFormat = "2006-01-02"

	// TimestampFormat is the storage format for instants. It is fixed width
	// and always UTC so that TEXT columns sort chronologically.
	TimestampFormat = "2006-01-02T15:04:05.000000Z"

	// DisplayFormat is used by the CLI text output.
	DisplayFormat = "2006-01-02 15:04"
)

// Clock supplies the current time to services.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a settable time. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// FormatTimestamp formats t for storage.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a stored timestamp. RFC3339 values written by
// SQLite defaults or other tools are accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampFormat, s)
	if err == nil {
		return t, nil
	}
	if t, rerr := time.Parse(time.RFC3339Nano, s); rerr == nil {
		return t.UTC(), nil
	}
	return time.Time{}, err
}

// FormatDate formats a time as a date string.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// ParseDate parses a date string as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}
