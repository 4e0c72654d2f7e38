// Package util provides identifier, request code and time helpers shared by
// the storekeeper packages.
package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewID generates a new UUIDv7 identifier.
// UUIDv7 is time ordered, which keeps primary key indexes append-mostly.
// IDs created within one process are strictly increasing.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RequestCodePrefix starts every purchase request code.
const RequestCodePrefix = "PR"

// RequestCode formats a purchase request code: PR-{year}-{4-digit sequence}.
// Sequences past 9999 keep their full width.
func RequestCode(year, seq int) string {
	return fmt.Sprintf("%s-%04d-%04d", RequestCodePrefix, year, seq)
}

// ParseRequestCode extracts the year and sequence from a purchase request code.
func ParseRequestCode(code string) (year, seq int, err error) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[0] != RequestCodePrefix {
		return 0, 0, fmt.Errorf("invalid request code %q", code)
	}
	if year, err = strconv.Atoi(parts[1]); err != nil || len(parts[1]) != 4 {
		return 0, 0, fmt.Errorf("invalid request code year %q", code)
	}
	if seq, err = strconv.Atoi(parts[2]); err != nil || seq < 1 {
		return 0, 0, fmt.Errorf("invalid request code sequence %q", code)
	}
	return year, seq, nil
}

// NextRequestCode returns the code after last for year. An empty or
// unparsable last code restarts the sequence at 1.
func NextRequestCode(year int, last string) string {
	if last == "" {
		return RequestCode(year, 1)
	}
	y, seq, err := ParseRequestCode(last)
	if err != nil || y != year {
		return RequestCode(year, 1)
	}
	return RequestCode(year, seq+1)
}
