// Package durationfmt parses the composite duration strings used throughout
// the manager's configuration (e.g. "5d3h28m5s") and formats UTC timestamps
// the way annotations expect them.
package durationfmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var unitSeconds = map[byte]float64{
	's': 1,
	'm': 60,
	'h': 60 * 60,
	'd': 24 * 60 * 60,
	'w': 7 * 24 * 60 * 60,
}

// Parse parses a composite duration string such as "1h58s" or "5d3h28m5s".
// Case is ignored and embedded whitespace is stripped before parsing.
func Parse(s string) (time.Duration, error) {
	clean := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if clean == "" {
		return 0, fmt.Errorf("durationfmt: empty duration string")
	}

	var total float64
	start := 0
	consumedAny := false
	for i := 0; i < len(clean); i++ {
		c := clean[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}

		unit, ok := unitSeconds[c]
		if !ok {
			return 0, fmt.Errorf("durationfmt: invalid unit %q in %q", string(c), s)
		}

		numStr := clean[start:i]
		if numStr == "" {
			return 0, fmt.Errorf("durationfmt: missing number before unit %q in %q", string(c), s)
		}

		value, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("durationfmt: invalid number %q in %q: %w", numStr, s, err)
		}

		total += value * unit
		consumedAny = true
		start = i + 1
	}

	if !consumedAny || start != len(clean) {
		return 0, fmt.Errorf("durationfmt: trailing characters in %q", s)
	}

	return time.Duration(total * float64(time.Second)), nil
}

// Format renders a duration the way the manager annotates a namespace's
// status_timeframe, e.g. "1 day, 3 hours and 28 minutes".
func Format(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}

	type unit struct {
		name string
		secs float64
	}
	units := []unit{
		{"week", unitSeconds['w']},
		{"day", unitSeconds['d']},
		{"hour", unitSeconds['h']},
		{"minute", unitSeconds['m']},
		{"second", unitSeconds['s']},
	}

	remaining := d.Seconds()
	var parts []string
	for _, u := range units {
		count := int(remaining / u.secs)
		if count == 0 {
			continue
		}
		remaining -= float64(count) * u.secs
		name := u.name
		if count != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, name))
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// Now returns the current instant in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatUTC renders t as an ISO-8601 UTC timestamp ending in "Z", matching
// the annotations the core writes.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
