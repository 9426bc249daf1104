/*
Package sqlite provides a SQLite-backed implementation of checkin.Store and
checkin.Directory.

KEY TABLES:
  checkins:       One row per expected weekly submission
  organizations:  Directory tenants
  users:          Directory members (no foreign key to organizations, so
                  deleting an organization leaves orphans behind)

INDEXES:
  - idx_checkins_slot (UNIQUE): (organization_id, user_id, week_start).
    This is the final arbiter for concurrent inserts and week edits.
  - idx_checkins_week_start: range filters on week_start
  - idx_checkins_org_user: per-user lookups

TIME ENCODING:
  Instants are stored as RFC 3339 strings in UTC, so lexical order equals
  chronological order and range filters can compare strings.

CONCURRENCY:
  The pool is limited to one connection. That keeps ":memory:" databases
  coherent and lets SQLite serialise writers; the unique index decides
  races, not application code.

USAGE:
  store, err := sqlite.New("./data/checkins.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/checkin-integrity/checkin"
	"github.com/warp/checkin-integrity/week"
)

// Store implements checkin.Store and checkin.Directory using SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		week_start TEXT NOT NULL,
		due_date TEXT NOT NULL,
		submitted_at TEXT,
		is_complete BOOLEAN NOT NULL DEFAULT FALSE,
		review_status TEXT,
		reviewed_at TEXT,
		reviewed_by TEXT,
		responses_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One check-in per user per week start
	CREATE UNIQUE INDEX IF NOT EXISTS idx_checkins_slot
		ON checkins(organization_id, user_id, week_start);

	CREATE INDEX IF NOT EXISTS idx_checkins_week_start
		ON checkins(week_start);

	CREATE INDEX IF NOT EXISTS idx_checkins_org_user
		ON checkins(organization_id, user_id);

	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_organization
		ON users(organization_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CHECKIN STORE (checkin.Store interface)
// =============================================================================

type checkinRow struct {
	ID             string         `db:"id"`
	OrganizationID string         `db:"organization_id"`
	UserID         string         `db:"user_id"`
	WeekStart      string         `db:"week_start"`
	DueDate        string         `db:"due_date"`
	SubmittedAt    sql.NullString `db:"submitted_at"`
	IsComplete     bool           `db:"is_complete"`
	ReviewStatus   sql.NullString `db:"review_status"`
	ReviewedAt     sql.NullString `db:"reviewed_at"`
	ReviewedBy     sql.NullString `db:"reviewed_by"`
	ResponsesJSON  sql.NullString `db:"responses_json"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

const checkinColumns = `id, organization_id, user_id, week_start, due_date, submitted_at,
	is_complete, review_status, reviewed_at, reviewed_by, responses_json, created_at, updated_at`

// Scan returns every check-in matching f.
func (s *Store) Scan(ctx context.Context, f checkin.Filter) ([]checkin.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, string(f.OrganizationID))
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, string(f.UserID))
	}
	switch f.Status {
	case checkin.StatusComplete:
		where = append(where, "is_complete = 1")
	case checkin.StatusIncomplete:
		where = append(where, "is_complete = 0")
	}
	if f.StartDate != nil {
		where = append(where, "week_start >= ?")
		args = append(args, formatTime(week.Date(*f.StartDate)))
	}
	if f.EndDate != nil {
		where = append(where, "week_start < ?")
		args = append(args, formatTime(week.Date(*f.EndDate).AddDate(0, 0, 1)))
	}

	query := "SELECT " + checkinColumns + " FROM checkins"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY week_start ASC, organization_id ASC, user_id ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	var rows []checkinRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &checkin.InternalError{Op: "scan checkins", Err: err}
	}

	records := make([]checkin.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRecord()
		if err != nil {
			return nil, &checkin.InternalError{Op: "decode checkin", Err: err}
		}
		records = append(records, r)
	}
	return records, nil
}

// Get retrieves a check-in by id.
func (s *Store) Get(ctx context.Context, id checkin.CheckinID) (checkin.Record, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, id checkin.CheckinID) (checkin.Record, error) {
	var row checkinRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+checkinColumns+" FROM checkins WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.Record{}, &checkin.NotFoundError{ID: id}
	}
	if err != nil {
		return checkin.Record{}, &checkin.InternalError{Op: "get checkin", Err: err}
	}
	r, err := row.toRecord()
	if err != nil {
		return checkin.Record{}, &checkin.InternalError{Op: "decode checkin", Err: err}
	}
	return r, nil
}

// Insert adds a check-in. The unique index rejects a second row for the
// same (organization, user, week_start).
func (s *Store) Insert(ctx context.Context, r checkin.Record) (checkin.CheckinID, error) {
	if r.ID == "" {
		r.ID = checkin.CheckinID(uuid.New().String())
	}
	now := s.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	row, err := fromRecord(r)
	if err != nil {
		return "", &checkin.ValidationError{Field: "responses", Message: err.Error()}
	}

	query := `INSERT INTO checkins (` + checkinColumns + `)
		VALUES (:id, :organization_id, :user_id, :week_start, :due_date, :submitted_at,
		        :is_complete, :review_status, :reviewed_at, :reviewed_by, :responses_json, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueConstraintError(err) {
			if isSlotUniquenessError(err) {
				return "", s.conflict(ctx, r)
			}
			return "", &checkin.ValidationError{Field: "id", Message: "duplicate id " + string(r.ID)}
		}
		return "", &checkin.InternalError{Op: "insert checkin", Err: err}
	}
	return r.ID, nil
}

// Update applies p inside a transaction and returns the stored result.
func (s *Store) Update(ctx context.Context, id checkin.CheckinID, p checkin.Patch) (checkin.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return checkin.Record{}, &checkin.InternalError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	var (
		sets []string
		args []any
	)
	if p.WeekStart != nil {
		sets = append(sets, "week_start = ?")
		args = append(args, formatTime(*p.WeekStart))
	}
	if p.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, formatTime(*p.DueDate))
	}
	if p.IsComplete != nil {
		sets = append(sets, "is_complete = ?")
		args = append(args, *p.IsComplete)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), string(id))

	res, err := tx.ExecContext(ctx, "UPDATE checkins SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isSlotUniquenessError(err) {
			current, getErr := s.get(ctx, tx, id)
			if getErr != nil {
				return checkin.Record{}, getErr
			}
			if p.WeekStart != nil {
				current.WeekStart = *p.WeekStart
			}
			return checkin.Record{}, s.conflictTx(ctx, tx, current)
		}
		return checkin.Record{}, &checkin.InternalError{Op: "update checkin", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return checkin.Record{}, &checkin.NotFoundError{ID: id}
	}

	updated, err := s.get(ctx, tx, id)
	if err != nil {
		return checkin.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return checkin.Record{}, &checkin.InternalError{Op: "commit update", Err: err}
	}
	return updated, nil
}

// Delete removes a check-in.
func (s *Store) Delete(ctx context.Context, id checkin.CheckinID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkins WHERE id = ?", string(id))
	if err != nil {
		return &checkin.InternalError{Op: "delete checkin", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &checkin.NotFoundError{ID: id}
	}
	return nil
}

func (s *Store) conflict(ctx context.Context, r checkin.Record) error {
	return s.conflictTx(ctx, s.db, r)
}

// conflictTx builds a ConflictError naming the row that holds r's raw slot.
func (s *Store) conflictTx(ctx context.Context, q sqlx.QueryerContext, r checkin.Record) error {
	var existing string
	err := sqlx.GetContext(ctx, q, &existing,
		"SELECT id FROM checkins WHERE organization_id = ? AND user_id = ? AND week_start = ?",
		string(r.OrganizationID), string(r.UserID), formatTime(r.WeekStart))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &checkin.InternalError{Op: "resolve conflict", Err: err}
	}
	return &checkin.ConflictError{Slot: r.Slot(), ExistingID: checkin.CheckinID(existing)}
}

// =============================================================================
// DIRECTORY (checkin.Directory interface)
// =============================================================================

// OrganizationExists reports whether the organization is in the directory.
func (s *Store) OrganizationExists(ctx context.Context, id checkin.OrganizationID) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM organizations WHERE id = ?", string(id)); err != nil {
		return false, &checkin.InternalError{Op: "lookup organization", Err: err}
	}
	return count > 0, nil
}

// UserExists reports whether the user exists and belongs to orgID.
func (s *Store) UserExists(ctx context.Context, id checkin.UserID, orgID checkin.OrganizationID) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE id = ? AND organization_id = ?", string(id), string(orgID))
	if err != nil {
		return false, &checkin.InternalError{Op: "lookup user", Err: err}
	}
	return count > 0, nil
}

// SaveOrganization upserts an organization.
func (s *Store) SaveOrganization(ctx context.Context, o checkin.Organization) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		string(o.ID), o.Name, formatTime(o.CreatedAt))
	return err
}

// SaveUser upserts a user.
func (s *Store) SaveUser(ctx context.Context, u checkin.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, name, email, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name = excluded.name,
			email = excluded.email`,
		string(u.ID), string(u.OrganizationID), u.Name, nullString(u.Email), formatTime(u.CreatedAt))
	return err
}

// DeleteOrganization removes an organization. Users and check-ins are kept.
func (s *Store) DeleteOrganization(ctx context.Context, id checkin.OrganizationID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM organizations WHERE id = ?", string(id))
	return err
}

// DeleteUser removes a user. Their check-ins are kept.
func (s *Store) DeleteUser(ctx context.Context, id checkin.UserID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", string(id))
	return err
}

// Reset deletes all data (dev/demo only).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkins;
		DELETE FROM users;
		DELETE FROM organizations;`)
	return err
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func fromRecord(r checkin.Record) (checkinRow, error) {
	row := checkinRow{
		ID:             string(r.ID),
		OrganizationID: string(r.OrganizationID),
		UserID:         string(r.UserID),
		WeekStart:      formatTime(r.WeekStart),
		DueDate:        formatTime(r.DueDate),
		SubmittedAt:    nullTime(r.SubmittedAt),
		IsComplete:     r.IsComplete,
		ReviewStatus:   nullString(r.ReviewStatus),
		ReviewedAt:     nullTime(r.ReviewedAt),
		ReviewedBy:     nullString(r.ReviewedBy),
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
	}
	if len(r.Responses) > 0 {
		b, err := json.Marshal(r.Responses)
		if err != nil {
			return row, fmt.Errorf("encode responses: %w", err)
		}
		row.ResponsesJSON = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (row checkinRow) toRecord() (checkin.Record, error) {
	r := checkin.Record{
		ID:             checkin.CheckinID(row.ID),
		OrganizationID: checkin.OrganizationID(row.OrganizationID),
		UserID:         checkin.UserID(row.UserID),
		IsComplete:     row.IsComplete,
		ReviewStatus:   row.ReviewStatus.String,
		ReviewedBy:     row.ReviewedBy.String,
	}

	var err error
	if r.WeekStart, err = parseTime(row.WeekStart); err != nil {
		return r, err
	}
	if r.DueDate, err = parseTime(row.DueDate); err != nil {
		return r, err
	}
	if r.SubmittedAt, err = parseNullTime(row.SubmittedAt); err != nil {
		return r, err
	}
	if r.ReviewedAt, err = parseNullTime(row.ReviewedAt); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return r, err
	}
	if row.ResponsesJSON.Valid && row.ResponsesJSON.String != "" {
		if err := json.Unmarshal([]byte(row.ResponsesJSON.String), &r.Responses); err != nil {
			return r, fmt.Errorf("decode responses of %s: %w", row.ID, err)
		}
	}
	return r, nil
}

// Helper functions

// timeLayout keeps nanoseconds at a fixed width so stored values sort
// lexically and the raw slot matches the in-memory store.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// isSlotUniquenessError distinguishes the slot index from the primary key.
// SQLite names the violated columns in the message.
func isSlotUniquenessError(err error) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "checkins.week_start")
}
