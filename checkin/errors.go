/*
errors.go - Error taxonomy for check-in reconciliation

ERROR CATEGORIES:
  ValidationError  Malformed or future-dated input
  NotFoundError    Record absent
  ConflictError    (organization, user, week) already taken
  ReferenceError   Organization or user does not resolve (also a validation error)
  InternalError    Store or directory failure

USAGE:
  Every structured error unwraps to its sentinel:

    if errors.Is(err, checkin.ErrConflict) {
        var c *checkin.ConflictError
        errors.As(err, &c) // c.ExistingID is the record holding the slot
    }

  Anomalies found by the Scanner are data, never errors.
*/
package checkin

import (
	"errors"
	"fmt"

	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("checkin not found")
	ErrConflict   = errors.New("checkin already exists for week")
	ErrReference  = errors.New("directory reference does not resolve")
	ErrInternal   = errors.New("internal failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError is returned when a check-in id does not exist.
type NotFoundError struct {
	ID CheckinID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkin %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is returned when a write would put a second record in an
// occupied slot. ExistingID may be empty when the store cannot tell.
type ConflictError struct {
	Slot       Slot
	ExistingID CheckinID
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("checkin already exists for user %s in organization %s for week %s",
		e.Slot.UserID, e.Slot.OrganizationID, week.Format(e.Slot.WeekStart))
	if e.ExistingID != "" {
		msg += fmt.Sprintf(" (existing: %s)", e.ExistingID)
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ReferenceError is returned when an organization or user is unknown.
// It matches both ErrReference and ErrValidation.
type ReferenceError struct {
	OrganizationID OrganizationID
	UserID         UserID
	Missing        string // "organization" or "user"
}

func (e *ReferenceError) Error() string {
	if e.Missing == "organization" {
		return fmt.Sprintf("organization %s does not exist", e.OrganizationID)
	}
	return fmt.Sprintf("user %s does not exist in organization %s", e.UserID, e.OrganizationID)
}

func (e *ReferenceError) Unwrap() []error { return []error{ErrReference, ErrValidation} }

// InternalError wraps an infrastructure failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error { return []error{ErrInternal, e.Err} }

// Internal wraps err as an InternalError unless it already carries a
// domain kind, in which case it is returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func isDomain(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrReference) ||
		errors.Is(err, ErrInternal)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrReference)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
