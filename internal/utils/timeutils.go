package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseTimeRange parses optional RFC3339 bounds for a history query. Missing
// values default to the trailing defaultSpan ending now.
func ParseTimeRange(startRaw, endRaw string, defaultSpan time.Duration, now time.Time) (time.Time, time.Time, error) {
	end := now
	if endRaw != "" {
		parsed, err := ParseRFC3339(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
		end = parsed
	}

	start := end.Add(-defaultSpan)
	if startRaw != "" {
		parsed, err := ParseRFC3339(startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s must precede end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// DurationMinutes converts a pair of timestamps into a minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
