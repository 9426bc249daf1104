/*
store.go - Persistence and directory interfaces

PURPOSE:
  Defines the boundary between the reconciliation core and its backing
  data. The Store owns persistence and the uniqueness constraint on
  (organization, user, weekStart). It runs no detection logic.

UNIQUENESS:
  Insert and Update must fail with *ConflictError when the written
  (OrganizationID, UserID, WeekStart) is already held by another record.
  The store's own enforcement (a unique index, or a lock around the check)
  is the final arbiter; callers may pre-check but must not rely on it.

SNAPSHOTS:
  Scan returns a fully materialised slice, not a cursor. It honours ctx
  cancellation and has no side effects.

IMPLEMENTATIONS:
  - checkin/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite with a unique index

SEE ALSO:
  - directory/cached.go: Caching Directory decorator
*/
package checkin

import "context"

// Store persists check-in records.
type Store interface {
	// Scan returns every record matching f, ordered by week start,
	// organization, user and id.
	Scan(ctx context.Context, f Filter) ([]Record, error)

	// Get returns *NotFoundError when id is absent.
	Get(ctx context.Context, id CheckinID) (Record, error)

	// Insert stores r and returns its id, generating one when r.ID is empty.
	Insert(ctx context.Context, r Record) (CheckinID, error)

	// Update applies p and returns the updated record.
	Update(ctx context.Context, id CheckinID, p Patch) (Record, error)

	// Delete removes id. Returns *NotFoundError when absent.
	Delete(ctx context.Context, id CheckinID) error
}

// Directory resolves organization and user references. It is read-only
// reference data and may lag behind the source of truth.
type Directory interface {
	OrganizationExists(ctx context.Context, id OrganizationID) (bool, error)
	UserExists(ctx context.Context, id UserID, orgID OrganizationID) (bool, error)
}
