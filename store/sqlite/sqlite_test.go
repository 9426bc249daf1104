package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/checkin-integrity/checkin"
	memstore "github.com/warp/checkin-integrity/checkin/store"
	"github.com/warp/checkin-integrity/store/sqlite"
	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveOrganization(ctx, checkin.Organization{ID: "org1", Name: "Acme"}))
	require.NoError(t, store.SaveUser(ctx, checkin.User{ID: "u1", OrganizationID: "org1", Name: "Ada", Email: "ada@acme.test"}))
	require.NoError(t, store.SaveUser(ctx, checkin.User{ID: "u2", OrganizationID: "org1", Name: "Brian"}))
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func record(id, org, user string, weekStart time.Time) checkin.Record {
	return checkin.Record{
		ID:             checkin.CheckinID(id),
		OrganizationID: checkin.OrganizationID(org),
		UserID:         checkin.UserID(user),
		WeekStart:      weekStart,
		DueDate:        week.DueDate(weekStart),
	}
}

// =============================================================================
// CRUD
// =============================================================================

func TestStore_InsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	submitted := time.Date(2024, time.May, 30, 17, 45, 0, 0, time.UTC)
	reviewed := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	r := record("c1", "org1", "u1", day(2024, time.May, 27))
	r.SubmittedAt = &submitted
	r.IsComplete = true
	r.ReviewStatus = "approved"
	r.ReviewedAt = &reviewed
	r.ReviewedBy = "manager-7"
	r.Responses = map[string]any{"mood": "great", "blockers": "none"}

	id, err := store.Insert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, checkin.CheckinID("c1"), id)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, r.WeekStart, got.WeekStart)
	assert.Equal(t, day(2024, time.June, 2), got.DueDate)
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, submitted, *got.SubmittedAt)
	assert.True(t, got.IsComplete)
	assert.True(t, got.SubmittedOnTime())
	assert.Equal(t, "approved", got.ReviewStatus)
	assert.Equal(t, "manager-7", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, reviewed, *got.ReviewedAt)
	assert.Equal(t, "great", got.Responses["mood"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_InsertGeneratesID(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Insert(context.Background(), record("", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")

	var nf *checkin.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, checkin.CheckinID("nope"), nf.ID)
}

func TestStore_DeleteMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, record("c1", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "c1"))
	assert.ErrorIs(t, store.Delete(ctx, "c1"), checkin.ErrNotFound)
}

// =============================================================================
// UNIQUENESS INVARIANT TESTS
// =============================================================================

func TestStore_DuplicateSlotRejected(t *testing.T) {
	// GIVEN: u1 already has a check-in for the week of 2024-05-27
	// WHEN: Inserting another for the same week start
	// THEN: ConflictError naming the existing row

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, record("first", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)

	_, err = store.Insert(ctx, record("second", "org1", "u1", day(2024, time.May, 27)))

	var conflict *checkin.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, checkin.CheckinID("first"), conflict.ExistingID)
	assert.Equal(t, day(2024, time.May, 27), conflict.Slot.WeekStart)

	_, err = store.Get(ctx, "second")
	assert.ErrorIs(t, err, checkin.ErrNotFound)
}

func TestStore_DriftedWeekStartIsADifferentRawSlot(t *testing.T) {
	// The index works on the stored instant. Drifted rows get in and are
	// left for the duplicate detector.
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, record("monday", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)
	_, err = store.Insert(ctx, record("monday-9am", "org1", "u1", time.Date(2024, time.May, 27, 9, 0, 0, 0, time.UTC)))
	assert.NoError(t, err)
}

func TestStore_SubSecondPrecisionRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ws := time.Date(2024, time.May, 27, 0, 0, 0, 250_000_000, time.UTC)
	submitted := time.Date(2024, time.May, 30, 17, 45, 12, 123_456_789, time.UTC)
	r := record("c1", "org1", "u1", ws)
	r.SubmittedAt = &submitted
	_, err := store.Insert(ctx, r)
	require.NoError(t, err)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ws.Equal(got.WeekStart), "week_start %s", got.WeekStart)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, submitted.Equal(*got.SubmittedAt), "submitted_at %s", got.SubmittedAt)
}

func TestStore_SubSecondDriftMatchesMemoryStore(t *testing.T) {
	// GIVEN: A Monday midnight check-in on each backend
	// WHEN: Inserting a copy 250ms later for the same user
	// THEN: Both backends accept it as a different raw slot

	ctx := context.Background()
	mem := memstore.NewMemory()
	require.NoError(t, mem.SaveOrganization(ctx, checkin.Organization{ID: "org1"}))
	require.NoError(t, mem.SaveUser(ctx, checkin.User{ID: "u1", OrganizationID: "org1"}))

	backends := map[string]checkin.Store{
		"memory": mem,
		"sqlite": newTestStore(t),
	}
	monday := day(2024, time.May, 27)
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			_, err := s.Insert(ctx, record("exact", "org1", "u1", monday))
			require.NoError(t, err)
			_, err = s.Insert(ctx, record("drifted", "org1", "u1", monday.Add(250*time.Millisecond)))
			assert.NoError(t, err)

			_, err = s.Insert(ctx, record("again", "org1", "u1", monday.Add(250*time.Millisecond)))
			var conflict *checkin.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, checkin.CheckinID("drifted"), conflict.ExistingID)
		})
	}
}

func TestStore_DuplicateIDIsValidationError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, record("c1", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)

	_, err = store.Insert(ctx, record("c1", "org1", "u2", day(2024, time.May, 27)))
	assert.ErrorIs(t, err, checkin.ErrValidation)
}

func TestStore_UpdateOntoTakenSlotRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, record("w20", "org1", "u1", day(2024, time.May, 20)))
	require.NoError(t, err)
	_, err = store.Insert(ctx, record("w27", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)

	ws := day(2024, time.May, 20)
	due := week.DueDate(ws)
	_, err = store.Update(ctx, "w27", checkin.Patch{WeekStart: &ws, DueDate: &due})

	var conflict *checkin.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, checkin.CheckinID("w20"), conflict.ExistingID)

	// rolled back
	got, err := store.Get(ctx, "w27")
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.May, 27), got.WeekStart)
	assert.Equal(t, day(2024, time.June, 2), got.DueDate)
}

func TestStore_UpdateWritesWeekAndDueTogether(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	r := record("c1", "org1", "u1", day(2024, time.May, 27))
	r.DueDate = day(2024, time.May, 29)
	_, err := store.Insert(ctx, r)
	require.NoError(t, err)

	ws := day(2024, time.May, 13)
	due := week.DueDate(ws)
	complete := true
	updated, err := store.Update(ctx, "c1", checkin.Patch{WeekStart: &ws, DueDate: &due, IsComplete: &complete})
	require.NoError(t, err)

	assert.Equal(t, ws, updated.WeekStart)
	assert.Equal(t, day(2024, time.May, 19), updated.DueDate)
	assert.True(t, updated.IsComplete)
}

func TestStore_UpdateMissing(t *testing.T) {
	store := newTestStore(t)
	ws := day(2024, time.May, 13)

	_, err := store.Update(context.Background(), "ghost", checkin.Patch{WeekStart: &ws})
	assert.ErrorIs(t, err, checkin.ErrNotFound)
}

func TestStore_ConcurrentInsertsOneWins(t *testing.T) {
	store := newTestStore(t)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Insert(context.Background(), record("", "org1", "u1", day(2024, time.May, 27)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if checkin.IsConflict(err) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
}

// =============================================================================
// SCAN
// =============================================================================

func TestStore_ScanFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveOrganization(ctx, checkin.Organization{ID: "org2", Name: "Globex"}))

	for _, r := range []checkin.Record{
		record("a", "org1", "u1", day(2024, time.May, 6)),
		record("b", "org1", "u1", day(2024, time.May, 13)),
		record("c", "org1", "u2", day(2024, time.May, 13)),
		record("d", "org2", "u9", day(2024, time.May, 20)),
	} {
		if r.ID == "b" {
			at := day(2024, time.May, 15)
			r.SubmittedAt = &at
			r.IsComplete = true
		}
		_, err := store.Insert(ctx, r)
		require.NoError(t, err)
	}

	idsOf := func(f checkin.Filter) []checkin.CheckinID {
		records, err := store.Scan(ctx, f)
		require.NoError(t, err)
		out := make([]checkin.CheckinID, len(records))
		for i, r := range records {
			out[i] = r.ID
		}
		return out
	}

	from, to := day(2024, time.May, 13), day(2024, time.May, 13)
	tests := []struct {
		name   string
		filter checkin.Filter
		want   []checkin.CheckinID
	}{
		{"all, ordered", checkin.Filter{}, []checkin.CheckinID{"a", "b", "c", "d"}},
		{"organization", checkin.Filter{OrganizationID: "org2"}, []checkin.CheckinID{"d"}},
		{"user", checkin.Filter{UserID: "u1"}, []checkin.CheckinID{"a", "b"}},
		{"complete", checkin.Filter{Status: checkin.StatusComplete}, []checkin.CheckinID{"b"}},
		{"incomplete", checkin.Filter{Status: checkin.StatusIncomplete}, []checkin.CheckinID{"a", "c", "d"}},
		{"inclusive range", checkin.Filter{StartDate: &from, EndDate: &to}, []checkin.CheckinID{"b", "c"}},
		{"from only", checkin.Filter{StartDate: &from}, []checkin.CheckinID{"b", "c", "d"}},
		{"page", checkin.Filter{Limit: 2, Offset: 1}, []checkin.CheckinID{"b", "c"}},
		{"offset only", checkin.Filter{Offset: 3}, []checkin.CheckinID{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idsOf(tt.filter))
		})
	}
}

func TestStore_ScanCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Scan(ctx, checkin.Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestStore_Directory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.OrganizationExists(ctx, "org1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UserExists(ctx, "u1", "org1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UserExists(ctx, "u1", "org2")
	require.NoError(t, err)
	assert.False(t, ok, "user belongs to org1 only")

	require.NoError(t, store.DeleteUser(ctx, "u1"))
	ok, err = store.UserExists(ctx, "u1", "org1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteOrganization(ctx, "org1"))
	ok, err = store.OrganizationExists(ctx, "org1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, record("c1", "org1", "u1", day(2024, time.May, 27)))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	all, err := store.Scan(ctx, checkin.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	ok, err := store.OrganizationExists(ctx, "org1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// The full scanner over SQLite, including drifted duplicates.
func TestStore_WithScanner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, r := range []checkin.Record{
		record("d1", "org1", "u1", day(2024, time.May, 27)),
		record("d2", "org1", "u1", time.Date(2024, time.May, 28, 8, 0, 0, 0, time.UTC)),
		record("future", "org1", "u2", day(2024, time.June, 10)),
	} {
		_, err := store.Insert(ctx, r)
		require.NoError(t, err)
	}

	scanner := checkin.NewScanner(store, store, checkin.WithClock(func() time.Time { return fixedNow }))
	report, err := scanner.HealthReport(ctx, checkin.Filter{})
	require.NoError(t, err)

	require.Len(t, report.DuplicateCheckins, 1)
	assert.Len(t, report.DuplicateCheckins[0].Checkins, 2)
	require.Len(t, report.FutureCheckins, 1)
	assert.Equal(t, checkin.CheckinID("future"), report.FutureCheckins[0].ID)
	assert.Equal(t, 3, report.TotalIssues)
}
