// Package store provides in-memory implementations of checkin.Store and
// checkin.Directory.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/checkin-integrity/checkin"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds check-ins and directory entries behind a single lock.
// The lock is what enforces slot uniqueness for concurrent writers.
type Memory struct {
	mu       sync.RWMutex
	checkins map[checkin.CheckinID]checkin.Record
	slots    map[key]checkin.CheckinID
	orgs     map[checkin.OrganizationID]checkin.Organization
	users    map[checkin.UserID]checkin.User
	now      func() time.Time
}

// key is the raw uniqueness key: the stored instant, not the normalised week.
type key struct {
	org       checkin.OrganizationID
	user      checkin.UserID
	weekStart int64
}

func keyOf(r checkin.Record) key {
	return key{org: r.OrganizationID, user: r.UserID, weekStart: r.WeekStart.UnixNano()}
}

func NewMemory() *Memory {
	return &Memory{
		checkins: make(map[checkin.CheckinID]checkin.Record),
		slots:    make(map[key]checkin.CheckinID),
		orgs:     make(map[checkin.OrganizationID]checkin.Organization),
		users:    make(map[checkin.UserID]checkin.User),
		now:      time.Now,
	}
}

// Scan returns a copy of every matching record.
func (m *Memory) Scan(ctx context.Context, f checkin.Filter) ([]checkin.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []checkin.Record{}
	for _, r := range m.checkins {
		if f.Matches(r) {
			result = append(result, clone(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
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

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return []checkin.Record{}, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *Memory) Get(_ context.Context, id checkin.CheckinID) (checkin.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.checkins[id]
	if !ok {
		return checkin.Record{}, &checkin.NotFoundError{ID: id}
	}
	return clone(r), nil
}

func (m *Memory) Insert(_ context.Context, r checkin.Record) (checkin.CheckinID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = checkin.CheckinID(uuid.New().String())
	}
	if _, exists := m.checkins[r.ID]; exists {
		return "", &checkin.ValidationError{Field: "id", Message: "duplicate id " + string(r.ID)}
	}
	r.WeekStart = r.WeekStart.UTC()
	r.DueDate = r.DueDate.UTC()
	k := keyOf(r)
	if existing, taken := m.slots[k]; taken {
		return "", &checkin.ConflictError{Slot: r.Slot(), ExistingID: existing}
	}

	now := m.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	m.checkins[r.ID] = clone(r)
	m.slots[k] = r.ID
	return r.ID, nil
}

func (m *Memory) Update(_ context.Context, id checkin.CheckinID, p checkin.Patch) (checkin.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.checkins[id]
	if !ok {
		return checkin.Record{}, &checkin.NotFoundError{ID: id}
	}

	next := r
	if p.WeekStart != nil {
		next.WeekStart = p.WeekStart.UTC()
	}
	if p.DueDate != nil {
		next.DueDate = p.DueDate.UTC()
	}
	if p.IsComplete != nil {
		next.IsComplete = *p.IsComplete
	}

	oldKey, newKey := keyOf(r), keyOf(next)
	if oldKey != newKey {
		if existing, taken := m.slots[newKey]; taken && existing != id {
			return checkin.Record{}, &checkin.ConflictError{Slot: next.Slot(), ExistingID: existing}
		}
		delete(m.slots, oldKey)
		m.slots[newKey] = id
	}

	next.UpdatedAt = m.now().UTC()
	m.checkins[id] = next
	return clone(next), nil
}

func (m *Memory) Delete(_ context.Context, id checkin.CheckinID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.checkins[id]
	if !ok {
		return &checkin.NotFoundError{ID: id}
	}
	delete(m.checkins, id)
	if m.slots[keyOf(r)] == id {
		delete(m.slots, keyOf(r))
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) OrganizationExists(_ context.Context, id checkin.OrganizationID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.orgs[id]
	return ok, nil
}

func (m *Memory) UserExists(_ context.Context, id checkin.UserID, orgID checkin.OrganizationID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return ok && u.OrganizationID == orgID, nil
}

func (m *Memory) SaveOrganization(_ context.Context, o checkin.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now().UTC()
	}
	m.orgs[o.ID] = o
	return nil
}

func (m *Memory) SaveUser(_ context.Context, u checkin.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	m.users[u.ID] = u
	return nil
}

// DeleteOrganization removes the organization only. Its users and
// check-ins stay behind, which is how orphans arise.
func (m *Memory) DeleteOrganization(_ context.Context, id checkin.OrganizationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orgs, id)
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id checkin.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkins = make(map[checkin.CheckinID]checkin.Record)
	m.slots = make(map[key]checkin.CheckinID)
	m.orgs = make(map[checkin.OrganizationID]checkin.Organization)
	m.users = make(map[checkin.UserID]checkin.User)
	return nil
}

func clone(r checkin.Record) checkin.Record {
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		r.SubmittedAt = &t
	}
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		r.ReviewedAt = &t
	}
	if r.Responses != nil {
		cp := make(map[string]any, len(r.Responses))
		for k, v := range r.Responses {
			cp[k] = v
		}
		r.Responses = cp
	}
	return r
}
