package schedule

import "time"

// AddMonths moves start forward by months calendar months. When the start
// day does not exist in the target month it is clamped to that month's last
// day (Jan 31 -> Feb 28/29 -> Mar 31), always counting from start so a short
// month never shifts later due dates.
func AddMonths(start time.Time, months int) time.Time {
	y, m, d := start.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, start.Location())
	if last := daysIn(first.Year(), first.Month(), start.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, start.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// DateOf returns UTC midnight of the calendar day t falls on in its own
// location, so 2025-01-31 22:00 -03:00 stays January 31.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
