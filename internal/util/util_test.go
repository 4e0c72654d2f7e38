package util

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID_Ordered(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		id := NewID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("NewID() = %q is not a UUID: %v", id, err)
		}
		if id <= prev {
			t.Fatalf("NewID() not increasing: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestRequestCode(t *testing.T) {
	tests := []struct {
		name string
		year int
		last string
		want string
	}{
		{"First of year", 2026, "", "PR-2026-0001"},
		{"Sequence continues", 2026, "PR-2026-0041", "PR-2026-0042"},
		{"New year restarts", 2027, "PR-2026-0041", "PR-2027-0001"},
		{"Past four digits", 2026, "PR-2026-9999", "PR-2026-10000"},
		{"Garbage restarts", 2026, "REQ-9", "PR-2026-0001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRequestCode(tt.year, tt.last); got != tt.want {
				t.Errorf("NextRequestCode(%d, %q) = %q, want %q", tt.year, tt.last, got, tt.want)
			}
		})
	}

	year, seq, err := ParseRequestCode("PR-2026-0007")
	if err != nil || year != 2026 || seq != 7 {
		t.Errorf("ParseRequestCode() = %d, %d, %v", year, seq, err)
	}
}

func TestTimestamp_SortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	earlier := FormatTimestamp(base)
	later := FormatTimestamp(base.Add(time.Microsecond))
	if len(earlier) != len(later) || earlier >= later {
		t.Fatalf("timestamps not ordered: %q, %q", earlier, later)
	}

	parsed, err := ParseTimestamp(later)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(base.Add(time.Microsecond)) {
		t.Errorf("ParseTimestamp() = %v", parsed)
	}

	local := time.Date(2026, 3, 1, 11, 0, 0, 0, time.FixedZone("EAT", 3*3600))
	if got := FormatTimestamp(local); got != "2026-03-01T08:00:00.000000Z" {
		t.Errorf("FormatTimestamp() = %q", got)
	}

	if _, err := ParseTimestamp("2026-03-01T08:00:00Z"); err != nil {
		t.Errorf("ParseTimestamp(RFC3339) error = %v", err)
	}
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v", c.Now())
	}
	if got := c.Advance(time.Hour); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Advance() = %v", got)
	}
	var _ Clock = c
	var _ Clock = SystemClock{}
}
