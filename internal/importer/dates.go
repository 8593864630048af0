package importer

import (
	"fmt"
	"strings"
	"time"
)

var zonedLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// parseDateTime interprets an ISO-8601 timestamp. The date and time may be
// separated by "T" or a space; seconds fractions and the zone are optional, the time of day is not.
// Naive values are placed in loc.
func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if len(value) > 10 && value[10] == ' ' {
		value = value[:10] + "T" + strings.TrimLeft(value[11:], " ")
	}
	// A space before the zone, as in "2024-01-01T10:00:00 +01:00".
	if i := strings.LastIndex(value, " "); i > 10 {
		value = value[:i] + value[i+1:]
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO 8601 date-time", raw)
}
