/*
week.go - Canonical ISO week arithmetic for check-in scheduling

PURPOSE:
  Every check-in covers exactly one ISO week, identified by its Monday.
  Detection (checkin.Scanner) and repair (checkin.Reconciler) both derive
  week starts and due dates from this package, so they can never disagree
  about what a correct record looks like.

CONVENTION:
  - Weeks start on Monday (ISO 8601).
  - Dates are evaluated on the UTC calendar. An instant is first reduced to
    its UTC date, then moved back to the Monday of that week.
  - The due date is the Sunday closing the week: weekStart + 6 days.

PURITY:
  Nothing here reads the wall clock. Callers pass "now" explicitly.

EXAMPLE:
  ws := week.Start(time.Date(2024, 5, 29, 14, 0, 0, 0, time.UTC)) // 2024-05-27
  due := week.DueDate(ws)                                           // 2024-06-02
*/
package week

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DueOffsetDays is the number of days between a week start and its due date.
const DueOffsetDays = 6

// Date truncates t to midnight of its UTC calendar date.
func Date(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Start returns the Monday of the ISO week containing t.
// Start(Start(t)) == Start(t) for every t.
func Start(t time.Time) time.Time {
	d := Date(t)
	// Monday=0 ... Sunday=6
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Current returns the start of the week containing now.
func Current(now time.Time) time.Time {
	return Start(now)
}

// DueDate derives the due date of the week beginning on weekStart.
func DueDate(weekStart time.Time) time.Time {
	return Date(weekStart).AddDate(0, 0, DueOffsetDays)
}

// IsFuture reports whether weekStart lies after the current week start.
func IsFuture(weekStart, now time.Time) bool {
	return Date(weekStart).After(Current(now))
}

// IsAligned reports whether t is exactly a Monday midnight (UTC).
func IsAligned(t time.Time) bool {
	return t.Equal(Start(t))
}

// SameDate compares the UTC calendar dates of a and b.
func SameDate(a, b time.Time) bool {
	return Date(a).Equal(Date(b))
}

// OnTime reports whether a submission made at submittedAt meets dueDate.
// Any time on the due day itself counts as on time.
func OnTime(submittedAt *time.Time, dueDate time.Time) bool {
	if submittedAt == nil {
		return false
	}
	return !Date(*submittedAt).After(Date(dueDate))
}

// Parse accepts either a calendar date (2006-01-02) or an RFC 3339
// timestamp and returns the instant in UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// Format renders the calendar date of t.
func Format(t time.Time) string {
	return Date(t).Format(DateLayout)
}
