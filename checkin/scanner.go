/*
scanner.go - Data health detection over the check-in store

PURPOSE:
  Pulls every record matching a filter and classifies it into four
  independent buckets:

    future      week.IsFuture(record.WeekStart, now)
    mismatched  record.DueDate != week.DueDate(record.WeekStart)
    duplicate   >1 record share (org, user, week.Start(record.WeekStart))
    orphaned    organization or user does not resolve in the Directory

  Buckets are lenses, not a partition. A future record of a deleted user
  shows up twice and counts twice in TotalIssues.

DETERMINISM:
  The report depends only on the store contents, the directory answers and
  the current week. Output ordering is fixed (week start, organization,
  user, id), so two scans with no mutation in between are identical.

STALENESS:
  Directory answers may come from a cache (directory.Cached). A record
  flagged orphaned because of a stale negative answer is reported as such
  and drops out of the bucket once the cache entry expires.
*/
package checkin

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warp/checkin-integrity/week"
)

// Scanner builds data health reports. It never mutates the store.
type Scanner struct {
	store     Store
	directory Directory
	now       func() time.Time
	log       *zap.Logger
}

// NewScanner creates a scanner over store and directory.
func NewScanner(store Store, directory Directory, opts ...Option) *Scanner {
	o := newOptions(opts)
	return &Scanner{
		store:     store,
		directory: directory,
		now:       o.now,
		log:       o.logger.Named("scanner"),
	}
}

// HealthReport scans every record matching f and reports its anomalies.
// Pagination fields of f are ignored: the whole match set is analysed.
func (s *Scanner) HealthReport(ctx context.Context, f Filter) (*HealthReport, error) {
	f.Limit, f.Offset = 0, 0

	records, err := s.store.Scan(ctx, f)
	if err != nil {
		return nil, Internal("scan checkins", err)
	}
	sortRecords(records)

	now := s.now()
	report := &HealthReport{
		FutureCheckins:    []Record{},
		MismatchedDates:   []Record{},
		DuplicateCheckins: []DuplicateGroup{},
		OrphanedCheckins:  []Record{},
	}

	for _, r := range records {
		if week.IsFuture(r.WeekStart, now) {
			report.FutureCheckins = append(report.FutureCheckins, r)
		}
		if !week.SameDate(r.DueDate, week.DueDate(r.WeekStart)) {
			report.MismatchedDates = append(report.MismatchedDates, r)
		}
	}

	report.DuplicateCheckins = findDuplicates(records)

	orphaned, err := s.findOrphans(ctx, records)
	if err != nil {
		return nil, err
	}
	report.OrphanedCheckins = orphaned

	report.TotalIssues = len(report.FutureCheckins) +
		len(report.MismatchedDates) +
		report.duplicateRecordCount() +
		len(report.OrphanedCheckins)
	report.Summary = summarize(records)

	s.log.Info("health report computed",
		zap.String("organization_id", string(f.OrganizationID)),
		zap.String("user_id", string(f.UserID)),
		zap.String("status", string(f.Status)),
		zap.Int("scanned", len(records)),
		zap.Int("future", len(report.FutureCheckins)),
		zap.Int("mismatched", len(report.MismatchedDates)),
		zap.Int("duplicate_groups", len(report.DuplicateCheckins)),
		zap.Int("orphaned", len(report.OrphanedCheckins)),
		zap.Int("total_issues", report.TotalIssues),
	)
	return report, nil
}

// findDuplicates groups records by normalised slot. records must already be sorted.
func findDuplicates(records []Record) []DuplicateGroup {
	groups := make(map[Slot][]Record)
	var order []Slot
	for _, r := range records {
		slot := r.Slot()
		if _, seen := groups[slot]; !seen {
			order = append(order, slot)
		}
		groups[slot] = append(groups[slot], r)
	}

	sort.SliceStable(order, func(i, j int) bool { return slotLess(order[i], order[j]) })

	dups := []DuplicateGroup{}
	for _, slot := range order {
		members := groups[slot]
		if len(members) < 2 {
			continue
		}
		dups = append(dups, DuplicateGroup{
			OrganizationID: slot.OrganizationID,
			UserID:         slot.UserID,
			WeekStart:      slot.WeekStart,
			Checkins:       members,
		})
	}
	return dups
}

type userKey struct {
	org  OrganizationID
	user UserID
}

// findOrphans resolves each distinct reference once per scan.
func (s *Scanner) findOrphans(ctx context.Context, records []Record) ([]Record, error) {
	orgs := make(map[OrganizationID]bool)
	users := make(map[userKey]bool)

	orphaned := []Record{}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, Internal("resolve references", err)
		}

		orgOK, ok := orgs[r.OrganizationID]
		if !ok {
			exists, err := s.directory.OrganizationExists(ctx, r.OrganizationID)
			if err != nil {
				return nil, Internal("lookup organization", err)
			}
			orgs[r.OrganizationID] = exists
			orgOK = exists
		}
		if !orgOK {
			orphaned = append(orphaned, r)
			continue
		}

		k := userKey{org: r.OrganizationID, user: r.UserID}
		userOK, ok := users[k]
		if !ok {
			exists, err := s.directory.UserExists(ctx, r.UserID, r.OrganizationID)
			if err != nil {
				return nil, Internal("lookup user", err)
			}
			users[k] = exists
			userOK = exists
		}
		if !userOK {
			orphaned = append(orphaned, r)
		}
	}
	return orphaned, nil
}

// =============================================================================
// ORDERING
// =============================================================================

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.WeekStart.Equal(b.WeekStart) {
			return a.WeekStart.Before(b.WeekStart)
		}
		if a.OrganizationID != b.OrganizationID {
			return a.OrganizationID < b.OrganizationID
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.ID < b.ID
	})
}

func slotLess(a, b Slot) bool {
	if a.OrganizationID != b.OrganizationID {
		return a.OrganizationID < b.OrganizationID
	}
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	return a.WeekStart.Before(b.WeekStart)
}
