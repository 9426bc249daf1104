/*
types.go - Core types for weekly check-in records

PURPOSE:
  Defines the check-in record, the filter used to scan the store, the
  partial update applied by repairs, and the directory entities that
  records reference.

RECORD INVARIANTS (basis of detection in scanner.go):
  1. WeekStart is Monday-aligned.
  2. WeekStart is not after the current week start.
  3. DueDate == week.DueDate(WeekStart).
  4. At most one record per (OrganizationID, UserID, week).
  5. OrganizationID and UserID resolve in the Directory.

SEE ALSO:
  - week/week.go: Week start and due date derivation
  - scanner.go: Detection of invariant violations
  - reconciler.go: Repair operations
*/
package checkin

import (
	"time"

	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	CheckinID      string
	OrganizationID string
	UserID         string
)

// =============================================================================
// CHECKIN RECORD
// =============================================================================

// Record is one expected weekly submission for a user.
type Record struct {
	ID             CheckinID
	OrganizationID OrganizationID
	UserID         UserID

	// WeekStart is the Monday of the covered week. DueDate is derived from it.
	WeekStart time.Time
	DueDate   time.Time

	SubmittedAt *time.Time
	IsComplete  bool

	// Review workflow state. Passed through untouched.
	ReviewStatus string
	ReviewedAt   *time.Time
	ReviewedBy   string

	Responses map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmittedOnTime is true iff the record was submitted no later than its due date.
func (r Record) SubmittedOnTime() bool {
	return week.OnTime(r.SubmittedAt, r.DueDate)
}

// Slot returns the uniqueness key of the record after normalisation.
func (r Record) Slot() Slot {
	return Slot{
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		WeekStart:      week.Start(r.WeekStart),
	}
}

// Slot identifies the single week a user may have one check-in for.
type Slot struct {
	OrganizationID OrganizationID
	UserID         UserID
	WeekStart      time.Time
}

// =============================================================================
// FILTERS AND PATCHES
// =============================================================================

// Status selects records by completion.
type Status string

const (
	StatusAny        Status = ""
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAny, StatusComplete, StatusIncomplete:
		return true
	}
	return false
}

// Filter restricts a store scan. Zero values mean "no restriction".
// StartDate and EndDate are inclusive calendar dates applied to WeekStart.
type Filter struct {
	OrganizationID OrganizationID
	UserID         UserID
	Status         Status
	StartDate      *time.Time
	EndDate        *time.Time

	// Limit 0 returns every match.
	Limit  int
	Offset int
}

// Matches applies the filter to a single record. Store implementations
// that cannot push a predicate down use this directly.
func (f Filter) Matches(r Record) bool {
	if f.OrganizationID != "" && r.OrganizationID != f.OrganizationID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	switch f.Status {
	case StatusComplete:
		if !r.IsComplete {
			return false
		}
	case StatusIncomplete:
		if r.IsComplete {
			return false
		}
	}
	if f.StartDate != nil && r.WeekStart.Before(week.Date(*f.StartDate)) {
		return false
	}
	if f.EndDate != nil && !r.WeekStart.Before(week.Date(*f.EndDate).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	WeekStart  *time.Time
	DueDate    *time.Time
	IsComplete *bool
}

// =============================================================================
// DIRECTORY ENTITIES
// =============================================================================

// Organization is a tenant in the directory.
type Organization struct {
	ID        OrganizationID
	Name      string
	CreatedAt time.Time
}

// User is a member of exactly one organization.
type User struct {
	ID             UserID
	OrganizationID OrganizationID
	Name           string
	Email          string
	CreatedAt      time.Time
}
