// Package schedule holds a run until a sale opens, measured on the store's clock.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// IST is India Standard Time, the zone flash sales on the supported stores are announced in.
var IST = time.FixedZone("IST", 5*60*60+30*60)

var layouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseStartTime parses a sale start time. Accepted forms:
//
//	2025-01-15T16:00:00+05:30   (RFC3339)
//	2025-01-15 16:00            (in loc)
//	2025-01-15 16:00:05         (in loc)
//	2025-01-15 16:00 IST        (zone suffix IST or UTC overrides loc)
func ParseStartTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	switch {
	case strings.HasSuffix(value, "UTC"):
		loc = time.UTC
		value = strings.TrimSpace(strings.TrimSuffix(value, "UTC"))
	case strings.HasSuffix(value, "IST"):
		loc = IST
		value = strings.TrimSpace(strings.TrimSuffix(value, "IST"))
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start time %q: use YYYY-MM-DD HH:MM, optionally followed by IST or UTC", value)
}
