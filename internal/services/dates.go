package services

import "time"

// All scheduling in this core is calendar-day granularity: no time-of-day,
// no timezone dependency. Dates are normalized to midnight UTC on the way in.

// DateOnly truncates t to its calendar date at midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
