package checkin

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthReport groups records into four independent anomaly buckets.
// A record appears in every bucket it violates.
type HealthReport struct {
	FutureCheckins    []Record
	MismatchedDates   []Record
	DuplicateCheckins []DuplicateGroup
	OrphanedCheckins  []Record

	// TotalIssues counts bucket memberships, with every record of every
	// duplicate group counted.
	TotalIssues int

	Summary Summary
}

// DuplicateGroup lists all records that share one normalised slot.
type DuplicateGroup struct {
	OrganizationID OrganizationID
	UserID         UserID
	WeekStart      time.Time
	Checkins       []Record
}

// Summary describes the scanned population.
type Summary struct {
	Scanned  int
	Complete int
	OnTime   int

	// Percentages in [0, 100], two decimal places.
	CompletionRate decimal.Decimal
	OnTimeRate     decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func summarize(records []Record) Summary {
	s := Summary{Scanned: len(records)}
	for _, r := range records {
		if r.IsComplete {
			s.Complete++
		}
		if r.SubmittedOnTime() {
			s.OnTime++
		}
	}
	s.CompletionRate = percent(s.Complete, s.Scanned)
	s.OnTimeRate = percent(s.OnTime, s.Scanned)
	return s
}

func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2)
}

func (r *HealthReport) duplicateRecordCount() int {
	n := 0
	for _, g := range r.DuplicateCheckins {
		n += len(g.Checkins)
	}
	return n
}
