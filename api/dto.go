/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the checkin domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Query: Query string parameters

TYPES:
  Check-ins:
    CheckinDTO, ListCheckinsQuery, CheckinListDTO

  Data health:
    DataHealthQuery, DataHealthDTO, DuplicateGroupDTO, SummaryDTO

  Repairs:
    EditWeekRequest, CreateCheckinRequest, DeleteCheckinDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request and query types carry go-playground/validator tags. Handlers call
  validateRequest before touching the domain. Dates are accepted as
  YYYY-MM-DD or RFC 3339 and parsed with week.Parse.

SEE ALSO:
  - handlers.go: Uses these types
  - checkin/types.go: Domain model
*/
package api

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/checkin-integrity/checkin"
	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// CHECKIN TYPES
// =============================================================================

// CheckinDTO represents a check-in record in API responses.
// WeekStart and DueDate are full instants so drifted values stay visible.
type CheckinDTO struct {
	ID              string         `json:"id"`
	OrganizationID  string         `json:"organization_id"`
	UserID          string         `json:"user_id"`
	WeekStart       time.Time      `json:"week_start"`
	DueDate         time.Time      `json:"due_date"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	IsComplete      bool           `json:"is_complete"`
	SubmittedOnTime bool           `json:"submitted_on_time"`
	ReviewStatus    string         `json:"review_status,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	ReviewedBy      string         `json:"reviewed_by,omitempty"`
	Responses       map[string]any `json:"responses,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ListCheckinsQuery is the query string of GET /api/admin/checkins.
type ListCheckinsQuery struct {
	OrganizationID string `json:"organization_id" validate:"omitempty,max=128"`
	UserID         string `json:"user_id" validate:"omitempty,max=128"`
	Status         string `json:"status" validate:"omitempty,oneof=complete incomplete"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Limit          int    `json:"limit" validate:"gte=1,lte=500"`
	Offset         int    `json:"offset" validate:"gte=0"`
}

// CheckinListDTO is a page of check-ins.
type CheckinListDTO struct {
	Checkins []CheckinDTO `json:"checkins"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

// =============================================================================
// DATA HEALTH TYPES
// =============================================================================

// DataHealthQuery is the query string of GET /api/admin/data-health.
type DataHealthQuery struct {
	OrganizationID string `json:"organization_id" validate:"omitempty,max=128"`
	Status         string `json:"status" validate:"omitempty,oneof=complete incomplete"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
}

// DataHealthDTO is the serialized health report.
type DataHealthDTO struct {
	FutureCheckins    []CheckinDTO        `json:"future_checkins"`
	MismatchedDates   []CheckinDTO        `json:"mismatched_dates"`
	DuplicateCheckins []DuplicateGroupDTO `json:"duplicate_checkins"`
	OrphanedCheckins  []CheckinDTO        `json:"orphaned_checkins"`
	TotalIssues       int                 `json:"total_issues"`
	Summary           SummaryDTO          `json:"summary"`
}

// DuplicateGroupDTO lists every record sharing one normalized week.
type DuplicateGroupDTO struct {
	OrganizationID string       `json:"organization_id"`
	UserID         string       `json:"user_id"`
	WeekStart      string       `json:"week_start"` // YYYY-MM-DD
	Checkins       []CheckinDTO `json:"checkins"`
}

// SummaryDTO carries completion figures. Rates are percentages.
type SummaryDTO struct {
	Scanned        int             `json:"scanned"`
	Complete       int             `json:"complete"`
	OnTime         int             `json:"on_time"`
	CompletionRate decimal.Decimal `json:"completion_rate"`
	OnTimeRate     decimal.Decimal `json:"on_time_rate"`
}

// =============================================================================
// REPAIR TYPES
// =============================================================================

// EditWeekRequest moves a check-in to another week.
type EditWeekRequest struct {
	WeekStart string `json:"week_start" validate:"required"`
}

// CreateCheckinRequest creates a check-in by hand.
type CreateCheckinRequest struct {
	OrganizationID string         `json:"organization_id" validate:"required,max=128"`
	UserID         string         `json:"user_id" validate:"required,max=128"`
	WeekStart      string         `json:"week_start" validate:"required"`
	IsComplete     bool           `json:"is_complete"`
	Responses      map[string]any `json:"responses,omitempty"`
}

// DeleteCheckinDTO reports the outcome of a delete. AlreadyGone is set when
// the record did not exist, which callers treat as resolved.
type DeleteCheckinDTO struct {
	ID          string `json:"id"`
	Deleted     bool   `json:"deleted"`
	AlreadyGone bool   `json:"already_gone"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a demo dataset.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo dataset.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
	Field      string `json:"field,omitempty"`
	ExistingID string `json:"existing_id,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toCheckinDTO(r checkin.Record) CheckinDTO {
	return CheckinDTO{
		ID:              string(r.ID),
		OrganizationID:  string(r.OrganizationID),
		UserID:          string(r.UserID),
		WeekStart:       r.WeekStart,
		DueDate:         r.DueDate,
		SubmittedAt:     r.SubmittedAt,
		IsComplete:      r.IsComplete,
		SubmittedOnTime: r.SubmittedOnTime(),
		ReviewStatus:    r.ReviewStatus,
		ReviewedAt:      r.ReviewedAt,
		ReviewedBy:      r.ReviewedBy,
		Responses:       r.Responses,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toCheckinDTOs(records []checkin.Record) []CheckinDTO {
	dtos := make([]CheckinDTO, len(records))
	for i, r := range records {
		dtos[i] = toCheckinDTO(r)
	}
	return dtos
}

func toDataHealthDTO(report *checkin.HealthReport) DataHealthDTO {
	groups := make([]DuplicateGroupDTO, len(report.DuplicateCheckins))
	for i, g := range report.DuplicateCheckins {
		groups[i] = DuplicateGroupDTO{
			OrganizationID: string(g.OrganizationID),
			UserID:         string(g.UserID),
			WeekStart:      week.Format(g.WeekStart),
			Checkins:       toCheckinDTOs(g.Checkins),
		}
	}
	return DataHealthDTO{
		FutureCheckins:    toCheckinDTOs(report.FutureCheckins),
		MismatchedDates:   toCheckinDTOs(report.MismatchedDates),
		DuplicateCheckins: groups,
		OrphanedCheckins:  toCheckinDTOs(report.OrphanedCheckins),
		TotalIssues:       report.TotalIssues,
		Summary: SummaryDTO{
			Scanned:        report.Summary.Scanned,
			Complete:       report.Summary.Complete,
			OnTime:         report.Summary.OnTime,
			CompletionRate: report.Summary.CompletionRate,
			OnTimeRate:     report.Summary.OnTimeRate,
		},
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateRequest runs the struct tags and flattens the result into a
// single ValidationError naming the first offending field.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &checkin.ValidationError{Message: err.Error()}
	}

	msgs := make([]string, len(verrs))
	for i, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs[i] = e.Field() + " is required"
		case "oneof":
			msgs[i] = fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
		case "max", "lte":
			msgs[i] = fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
		case "gte":
			msgs[i] = fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
		default:
			msgs[i] = e.Field() + " is invalid"
		}
	}
	return &checkin.ValidationError{Field: verrs[0].Field(), Message: strings.Join(msgs, "; ")}
}

// parseDate parses an optional date parameter.
func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := week.Parse(raw)
	if err != nil {
		return nil, &checkin.ValidationError{Field: field, Message: "expected YYYY-MM-DD or RFC 3339, got " + raw}
	}
	return &t, nil
}

// dateRange parses start/end and rejects an inverted range.
func dateRange(startRaw, endRaw string) (start, end *time.Time, err error) {
	if start, err = parseDate("start_date", startRaw); err != nil {
		return nil, nil, err
	}
	if end, err = parseDate("end_date", endRaw); err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && week.Date(*end).Before(week.Date(*start)) {
		return nil, nil, &checkin.ValidationError{Field: "end_date", Message: "end_date is before start_date"}
	}
	return start, end, nil
}
