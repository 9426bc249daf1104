/*
reconciler.go - Repair operations for check-in anomalies

OPERATIONS:
  EditWeek      Move a record to another week, re-deriving its due date
  Delete        Remove a record
  ManualCreate  Backfill a record for a user and week

COMMIT-TIME CHECKS:
  Every operation re-validates against the store as it is now, never
  against an earlier report. The conflict pre-check below catches records
  whose stored week start drifted off Monday midnight; the store's own
  uniqueness enforcement is the final arbiter for concurrent writers, so
  two racing ManualCreate calls for one slot yield one success and one
  *ConflictError.

ATOMICITY:
  A rejected EditWeek or ManualCreate writes nothing. WeekStart and DueDate
  are always written together in a single store Update.

RETRIES:
  None. A conflict is a decision for the caller, not a transient fault.
*/
package checkin

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/checkin-integrity/week"
)

// Reconciler applies repairs to the store.
type Reconciler struct {
	store     Store
	directory Directory
	now       func() time.Time
	log       *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store, directory Directory, opts ...Option) *Reconciler {
	o := newOptions(opts)
	return &Reconciler{
		store:     store,
		directory: directory,
		now:       o.now,
		log:       o.logger.Named("reconciler"),
	}
}

// ManualCheckin is the input of ManualCreate.
type ManualCheckin struct {
	OrganizationID OrganizationID
	UserID         UserID
	WeekStart      time.Time
	IsComplete     bool
	Responses      map[string]any
}

// EditWeek moves record id to the week containing newWeekStart.
// Calling it with the record's current week recomputes a drifted due date.
func (r *Reconciler) EditWeek(ctx context.Context, id CheckinID, newWeekStart time.Time) (Record, error) {
	log := r.log.With(zap.String("op", "edit_week"), zap.String("checkin_id", string(id)))

	current, err := r.store.Get(ctx, id)
	if err != nil {
		return Record{}, r.fail(log, Internal("get checkin", err))
	}

	ws := week.Start(newWeekStart)
	if week.IsFuture(ws, r.now()) {
		return Record{}, r.fail(log, &ValidationError{
			Field:   "week_start",
			Message: "week " + week.Format(ws) + " has not started yet",
		})
	}

	slot := Slot{OrganizationID: current.OrganizationID, UserID: current.UserID, WeekStart: ws}
	if err := r.ensureSlotFree(ctx, slot, id); err != nil {
		return Record{}, r.fail(log, err)
	}

	due := week.DueDate(ws)
	updated, err := r.store.Update(ctx, id, Patch{WeekStart: &ws, DueDate: &due})
	if err != nil {
		return Record{}, r.fail(log, Internal("update checkin", err))
	}

	log.Info("checkin week updated",
		zap.String("organization_id", string(updated.OrganizationID)),
		zap.String("user_id", string(updated.UserID)),
		zap.String("from", week.Format(current.WeekStart)),
		zap.String("to", week.Format(ws)),
	)
	return updated, nil
}

// Delete removes record id. A *NotFoundError means the record was already
// gone; callers doing cleanup may treat that as resolved.
func (r *Reconciler) Delete(ctx context.Context, id CheckinID) error {
	log := r.log.With(zap.String("op", "delete"), zap.String("checkin_id", string(id)))

	if err := r.store.Delete(ctx, id); err != nil {
		if IsNotFound(err) {
			log.Info("checkin already gone")
			return err
		}
		return r.fail(log, Internal("delete checkin", err))
	}

	log.Info("checkin deleted")
	return nil
}

// ManualCreate backfills a check-in for in.UserID and the week containing in.WeekStart.
func (r *Reconciler) ManualCreate(ctx context.Context, in ManualCheckin) (Record, error) {
	log := r.log.With(zap.String("op", "manual_create"),
		zap.String("organization_id", string(in.OrganizationID)),
		zap.String("user_id", string(in.UserID)),
	)

	if strings.TrimSpace(string(in.OrganizationID)) == "" {
		return Record{}, r.fail(log, &ValidationError{Field: "organization_id", Message: "required"})
	}
	if strings.TrimSpace(string(in.UserID)) == "" {
		return Record{}, r.fail(log, &ValidationError{Field: "user_id", Message: "required"})
	}
	if in.WeekStart.IsZero() {
		return Record{}, r.fail(log, &ValidationError{Field: "week_start", Message: "required"})
	}

	orgOK, err := r.directory.OrganizationExists(ctx, in.OrganizationID)
	if err != nil {
		return Record{}, r.fail(log, Internal("lookup organization", err))
	}
	if !orgOK {
		return Record{}, r.fail(log, &ReferenceError{OrganizationID: in.OrganizationID, UserID: in.UserID, Missing: "organization"})
	}
	userOK, err := r.directory.UserExists(ctx, in.UserID, in.OrganizationID)
	if err != nil {
		return Record{}, r.fail(log, Internal("lookup user", err))
	}
	if !userOK {
		return Record{}, r.fail(log, &ReferenceError{OrganizationID: in.OrganizationID, UserID: in.UserID, Missing: "user"})
	}

	ws := week.Start(in.WeekStart)
	if week.IsFuture(ws, r.now()) {
		return Record{}, r.fail(log, &ValidationError{
			Field:   "week_start",
			Message: "week " + week.Format(ws) + " has not started yet",
		})
	}

	slot := Slot{OrganizationID: in.OrganizationID, UserID: in.UserID, WeekStart: ws}
	if err := r.ensureSlotFree(ctx, slot, ""); err != nil {
		return Record{}, r.fail(log, err)
	}

	rec := Record{
		ID:             CheckinID(uuid.New().String()),
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		WeekStart:      ws,
		DueDate:        week.DueDate(ws),
		IsComplete:     in.IsComplete,
		Responses:      in.Responses,
	}
	id, err := r.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, r.fail(log, Internal("insert checkin", err))
	}

	created, err := r.store.Get(ctx, id)
	if err != nil {
		return Record{}, r.fail(log, Internal("reload checkin", err))
	}

	log.Info("checkin created manually",
		zap.String("checkin_id", string(id)),
		zap.String("week_start", week.Format(ws)),
		zap.Bool("is_complete", in.IsComplete),
	)
	return created, nil
}

// ensureSlotFree returns *ConflictError when a record other than self
// already covers slot, including records whose week start drifted.
func (r *Reconciler) ensureSlotFree(ctx context.Context, slot Slot, self CheckinID) error {
	from := slot.WeekStart
	to := slot.WeekStart.AddDate(0, 0, 6)
	existing, err := r.store.Scan(ctx, Filter{
		OrganizationID: slot.OrganizationID,
		UserID:         slot.UserID,
		StartDate:      &from,
		EndDate:        &to,
	})
	if err != nil {
		return Internal("check slot", err)
	}
	for _, rec := range existing {
		if rec.ID != self && rec.Slot() == slot {
			return &ConflictError{Slot: slot, ExistingID: rec.ID}
		}
	}
	return nil
}

func (r *Reconciler) fail(log *zap.Logger, err error) error {
	switch {
	case IsClientError(err), IsConflict(err), IsNotFound(err):
		log.Info("repair rejected", zap.Error(err))
	default:
		log.Error("repair failed", zap.Error(err))
	}
	return err
}
