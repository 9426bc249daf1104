package checkin_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/checkin-integrity/checkin"
)

func newScanner(dir *countingDirectory, st checkin.Store) *checkin.Scanner {
	return checkin.NewScanner(st, dir, checkin.WithClock(clock))
}

func TestHealthReport_CleanDataset(t *testing.T) {
	// GIVEN: Aligned, past, correctly dated records for known users
	// THEN: No bucket has entries

	st := newTestStore(t)
	insert(t, st, "c1", "org1", "u1", day(2024, time.May, 20))
	insert(t, st, "c2", "org1", "u1", day(2024, time.May, 27))
	insert(t, st, "c3", "org1", "u2", day(2024, time.June, 3))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Empty(t, report.FutureCheckins)
	assert.Empty(t, report.MismatchedDates)
	assert.Empty(t, report.DuplicateCheckins)
	assert.Empty(t, report.OrphanedCheckins)
	assert.Equal(t, 0, report.TotalIssues)
	assert.Equal(t, 3, report.Summary.Scanned)
}

func TestHealthReport_FutureCheckins(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "current", "org1", "u1", day(2024, time.June, 3))
	insert(t, st, "next", "org1", "u1", day(2024, time.June, 10))
	insert(t, st, "far", "org1", "u2", day(2024, time.July, 1))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Equal(t, []checkin.CheckinID{"next", "far"}, ids(report.FutureCheckins))
	assert.Equal(t, 2, report.TotalIssues)
}

func TestHealthReport_MismatchedDates(t *testing.T) {
	// GIVEN: One record whose due date was stored independently of its week
	st := newTestStore(t)
	insert(t, st, "ok", "org1", "u1", day(2024, time.May, 20))
	insert(t, st, "bad", "org1", "u1", day(2024, time.May, 27), dueOn(day(2024, time.May, 31)))
	// time-of-day on the due date is not a mismatch
	insert(t, st, "late-hour", "org1", "u2", day(2024, time.May, 27), dueOn(time.Date(2024, time.June, 2, 23, 59, 0, 0, time.UTC)))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Equal(t, []checkin.CheckinID{"bad"}, ids(report.MismatchedDates))
}

func TestHealthReport_DuplicateGroupListsAllMembers(t *testing.T) {
	// GIVEN: Three records for u1 that all normalise to the week of 2024-05-27
	//   (the store accepts them because their raw week starts differ)
	// THEN: Exactly one group containing all three

	st := newTestStore(t)
	insert(t, st, "d1", "org1", "u1", day(2024, time.May, 27))
	insert(t, st, "d2", "org1", "u1", time.Date(2024, time.May, 27, 9, 0, 0, 0, time.UTC))
	insert(t, st, "d3", "org1", "u1", day(2024, time.May, 29))
	insert(t, st, "other-user", "org1", "u2", day(2024, time.May, 27))
	insert(t, st, "other-week", "org1", "u1", day(2024, time.May, 20))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	require.Len(t, report.DuplicateCheckins, 1)
	group := report.DuplicateCheckins[0]
	assert.Equal(t, checkin.OrganizationID("org1"), group.OrganizationID)
	assert.Equal(t, checkin.UserID("u1"), group.UserID)
	assert.Equal(t, day(2024, time.May, 27), group.WeekStart)
	assert.ElementsMatch(t, []checkin.CheckinID{"d1", "d2", "d3"}, ids(group.Checkins))

	// d3's due date is derived from its own (Wednesday) start, so it is not mismatched.
	assert.Empty(t, report.MismatchedDates)
	assert.Equal(t, 3, report.TotalIssues)
}

func TestHealthReport_OrphanedCheckins(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "fine", "org1", "u1", day(2024, time.May, 27))
	insert(t, st, "no-org", "ghost-org", "u1", day(2024, time.May, 27))
	insert(t, st, "no-user", "org1", "ghost", day(2024, time.May, 27))
	insert(t, st, "wrong-org", "org2", "u1", day(2024, time.May, 27))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []checkin.CheckinID{"no-org", "no-user", "wrong-org"}, ids(report.OrphanedCheckins))
}

func TestHealthReport_BucketsAreIndependent(t *testing.T) {
	// GIVEN: A future record of a user that no longer exists,
	//   duplicated by a second future record in the same week
	// THEN: Counted once per bucket it violates

	st := newTestStore(t)
	insert(t, st, "f1", "org1", "ghost", day(2024, time.June, 17))
	insert(t, st, "f2", "org1", "ghost", day(2024, time.June, 18))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Len(t, report.FutureCheckins, 2)
	assert.Len(t, report.OrphanedCheckins, 2)
	require.Len(t, report.DuplicateCheckins, 1)
	assert.Len(t, report.DuplicateCheckins[0].Checkins, 2)
	assert.Equal(t, 6, report.TotalIssues)
}

func TestHealthReport_Idempotent(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "a", "org1", "u1", day(2024, time.May, 27))
	insert(t, st, "b", "org1", "u1", day(2024, time.May, 28))
	insert(t, st, "c", "org1", "ghost", day(2024, time.June, 24), dueOn(day(2024, time.June, 1)))
	insert(t, st, "d", "org2", "u3", day(2024, time.May, 6), submitted(day(2024, time.May, 8)))

	scanner := checkin.NewScanner(st, st, checkin.WithClock(clock))
	first, err := scanner.HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)
	second, err := scanner.HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHealthReport_FilterByOrganization(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "org1-future", "org1", "u1", day(2024, time.June, 10))
	insert(t, st, "org2-future", "org2", "u3", day(2024, time.June, 10))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{OrganizationID: "org2"})
	require.NoError(t, err)

	assert.Equal(t, []checkin.CheckinID{"org2-future"}, ids(report.FutureCheckins))
	assert.Equal(t, 1, report.Summary.Scanned)
}

func TestHealthReport_IgnoresPagination(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "a", "org1", "u1", day(2024, time.June, 10))
	insert(t, st, "b", "org1", "u2", day(2024, time.June, 10))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)

	assert.Len(t, report.FutureCheckins, 2)
}

func TestHealthReport_Summary(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "on-time", "org1", "u1", day(2024, time.May, 20), submitted(day(2024, time.May, 24)))
	insert(t, st, "late", "org1", "u1", day(2024, time.May, 27), submitted(day(2024, time.June, 4)))
	insert(t, st, "open", "org1", "u2", day(2024, time.May, 27))

	report, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Summary.Scanned)
	assert.Equal(t, 2, report.Summary.Complete)
	assert.Equal(t, 1, report.Summary.OnTime)
	assert.True(t, decimal.RequireFromString("66.67").Equal(report.Summary.CompletionRate), report.Summary.CompletionRate.String())
	assert.True(t, decimal.RequireFromString("33.33").Equal(report.Summary.OnTimeRate), report.Summary.OnTimeRate.String())
}

func TestHealthReport_ResolvesEachReferenceOnce(t *testing.T) {
	st := newTestStore(t)
	for i, d := range []int{6, 13, 20, 27} {
		insert(t, st, "u1-"+string(rune('a'+i)), "org1", "u1", day(2024, time.May, d))
	}
	dir := &countingDirectory{next: st}

	_, err := newScanner(dir, st).HealthReport(context.Background(), checkin.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 1, dir.orgCalls)
	assert.Equal(t, 1, dir.userCalls)
}

func TestHealthReport_DirectoryFailureIsInternal(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "a", "org1", "u1", day(2024, time.May, 27))
	dir := &countingDirectory{next: st, err: errDirectoryDown}

	_, err := newScanner(dir, st).HealthReport(context.Background(), checkin.Filter{})

	require.Error(t, err)
	assert.ErrorIs(t, err, checkin.ErrInternal)
	assert.ErrorIs(t, err, errDirectoryDown)
}

func TestHealthReport_Cancelled(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "a", "org1", "u1", day(2024, time.May, 27))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := checkin.NewScanner(st, st, checkin.WithClock(clock)).HealthReport(ctx, checkin.Filter{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
