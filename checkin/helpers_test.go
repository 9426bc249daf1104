package checkin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/checkin-integrity/checkin"
	"github.com/warp/checkin-integrity/checkin/store"
	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixedNow falls in the week starting 2024-06-03.
var fixedNow = time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SaveOrganization(ctx, checkin.Organization{ID: "org1", Name: "Acme"}))
	require.NoError(t, s.SaveOrganization(ctx, checkin.Organization{ID: "org2", Name: "Globex"}))
	require.NoError(t, s.SaveUser(ctx, checkin.User{ID: "u1", OrganizationID: "org1", Name: "Ada"}))
	require.NoError(t, s.SaveUser(ctx, checkin.User{ID: "u2", OrganizationID: "org1", Name: "Brian"}))
	require.NoError(t, s.SaveUser(ctx, checkin.User{ID: "u3", OrganizationID: "org2", Name: "Chen"}))
	return s
}

// insert stores a record as the normal submission flow would, with a
// correctly derived due date unless the caller overrides it.
func insert(t *testing.T, s checkin.Store, id, org, user string, weekStart time.Time, mutate ...func(*checkin.Record)) checkin.Record {
	t.Helper()
	r := checkin.Record{
		ID:             checkin.CheckinID(id),
		OrganizationID: checkin.OrganizationID(org),
		UserID:         checkin.UserID(user),
		WeekStart:      weekStart,
		DueDate:        week.DueDate(weekStart),
	}
	for _, m := range mutate {
		m(&r)
	}
	_, err := s.Insert(context.Background(), r)
	require.NoError(t, err)
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	return got
}

func submitted(at time.Time) func(*checkin.Record) {
	return func(r *checkin.Record) {
		r.SubmittedAt = &at
		r.IsComplete = true
	}
}

func dueOn(d time.Time) func(*checkin.Record) {
	return func(r *checkin.Record) { r.DueDate = d }
}

func ids(records []checkin.Record) []checkin.CheckinID {
	out := make([]checkin.CheckinID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// countingDirectory records how often each lookup reaches the backing directory.
type countingDirectory struct {
	next checkin.Directory

	mu        sync.Mutex
	orgCalls  int
	userCalls int
	err       error
}

func (d *countingDirectory) OrganizationExists(ctx context.Context, id checkin.OrganizationID) (bool, error) {
	d.mu.Lock()
	d.orgCalls++
	d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.next.OrganizationExists(ctx, id)
}

func (d *countingDirectory) UserExists(ctx context.Context, id checkin.UserID, org checkin.OrganizationID) (bool, error) {
	d.mu.Lock()
	d.userCalls++
	d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.next.UserExists(ctx, id, org)
}

var errDirectoryDown = errors.New("directory unreachable")
