// Package durationx parses the small duration grammar used by the CLI's
// --older-than flag and anywhere else a human writes a relative span
// instead of an absolute timestamp.
package durationx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odgrim/abathur/internal/task"
)

// unitDays maps a grammar unit to its day count. Calendar units are fixed
// approximations (m=30d, y=365d), not actual month/year arithmetic.
var unitDays = map[byte]int{
	'd': 1,
	'w': 7,
	'm': 30,
	'y': 365,
}

// maxDays caps the resulting span regardless of unit (100 years).
const maxDays = 36500

// Parse parses "<positive-integer><d|w|m|y>" case-insensitively and
// returns the equivalent duration. Zero, negative, fractional, and
// multi-unit values (e.g. "1y6m") are rejected.
func Parse(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, task.ErrInvalidField("duration must not be empty")
	}
	lower := strings.ToLower(raw)
	unit := lower[len(lower)-1]
	days, ok := unitDays[unit]
	if !ok {
		return 0, task.ErrInvalidField(fmt.Sprintf("duration %q: unrecognized unit, want one of d w m y", s))
	}

	numPart := lower[:len(lower)-1]
	if numPart == "" {
		return 0, task.ErrInvalidField(fmt.Sprintf("duration %q: missing magnitude", s))
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, task.ErrInvalidField(fmt.Sprintf("duration %q: magnitude must be a positive integer", s))
	}
	if n <= 0 {
		return 0, task.ErrInvalidField(fmt.Sprintf("duration %q: magnitude must be positive", s))
	}

	totalDays := n * days
	if totalDays > maxDays {
		return 0, task.ErrInvalidField(fmt.Sprintf("duration %q: exceeds maximum of %d days", s, maxDays))
	}

	return time.Duration(totalDays) * 24 * time.Hour, nil
}

// Render renders d back into the grammar as a whole number of days (used by
// parse/render round-trip tests). It always renders in days ("7d", never
// "1w") and drops any sub-day remainder; callers that want unit-preserving
// round trips should retain the original string instead.
func Render(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	return strconv.Itoa(days) + "d"
}
