/*
handlers.go - HTTP API handlers for check-in data integrity

PURPOSE:
  Exposes the integrity scanner and the reconciler via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the checkin
  package.

ENDPOINTS:
  Data health:
    GET    /api/admin/data-health            Health report (filters in query)

  Check-ins:
    GET    /api/admin/checkins               List check-ins (paged)
    POST   /api/admin/checkins               Manual create
    GET    /api/admin/checkins/{id}          Get one check-in
    PUT    /api/admin/checkins/{id}/week     Move to another week
    DELETE /api/admin/checkins/{id}          Delete

  Scenarios:
    GET    /api/scenarios                    List demo datasets
    POST   /api/scenarios/load               Load a demo dataset
    POST   /api/scenarios/reset              Clear all data

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Backend: check-in store plus directory maintenance
  - Scanner: reads through the (possibly cached) report directory
  - Reconciler: always reads the backend directory directly

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, date parsing)
  3. Call the scanner or reconciler
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown organization or user
  - 404: Check-in not found
  - 409: Another check-in holds the week
  - 504: Report exceeded its timeout
  - 500: Internal errors
  Deleting a missing check-in is not an error: 200 with already_gone.

SECURITY NOTE:
  No authentication. Mount behind the admin gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/checkin-integrity/checkin"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API needs: check-ins, directory lookups, and
// the directory maintenance used by demo scenarios. Both store.Memory and
// sqlite.Store implement it.
type Backend interface {
	checkin.Store
	checkin.Directory

	SaveOrganization(ctx context.Context, o checkin.Organization) error
	SaveUser(ctx context.Context, u checkin.User) error
	DeleteOrganization(ctx context.Context, id checkin.OrganizationID) error
	DeleteUser(ctx context.Context, id checkin.UserID) error
	Reset(ctx context.Context) error
}

// Deps configures a Handler. Only Backend is required.
type Deps struct {
	Backend Backend

	// ReportDirectory serves orphan detection; defaults to Backend.
	ReportDirectory checkin.Directory

	Metrics       *Metrics
	Logger        *zap.Logger
	ReportTimeout time.Duration
	Now           func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Backend    Backend
	Scanner    *checkin.Scanner
	Reconciler *checkin.Reconciler
	Metrics    *Metrics

	logger        *zap.Logger
	reportTimeout time.Duration
	now           func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ReportTimeout <= 0 {
		d.ReportTimeout = 30 * time.Second
	}
	reportDir := d.ReportDirectory
	if reportDir == nil {
		reportDir = d.Backend
	}

	opts := []checkin.Option{checkin.WithClock(d.Now), checkin.WithLogger(d.Logger)}
	return &Handler{
		Backend:       d.Backend,
		Scanner:       checkin.NewScanner(d.Backend, reportDir, opts...),
		Reconciler:    checkin.NewReconciler(d.Backend, d.Backend, opts...),
		Metrics:       d.Metrics,
		logger:        d.Logger,
		reportTimeout: d.ReportTimeout,
		now:           d.Now,
	}
}

// =============================================================================
// DATA HEALTH
// =============================================================================

// GetDataHealth runs the integrity scan.
// GET /api/admin/data-health?organization_id=&start_date=&end_date=&status=
func (h *Handler) GetDataHealth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := DataHealthQuery{
		OrganizationID: q.Get("organization_id"),
		Status:         q.Get("status"),
		StartDate:      q.Get("start_date"),
		EndDate:        q.Get("end_date"),
	}
	if err := validateRequest(query); err != nil {
		writeDomainError(w, "Invalid report filter", err)
		return
	}
	start, end, err := dateRange(query.StartDate, query.EndDate)
	if err != nil {
		writeDomainError(w, "Invalid report filter", err)
		return
	}

	filter := checkin.Filter{
		OrganizationID: checkin.OrganizationID(query.OrganizationID),
		Status:         checkin.Status(query.Status),
		StartDate:      start,
		EndDate:        end,
	}
	filtered := filter.OrganizationID != "" || filter.Status != "" || start != nil || end != nil

	ctx, cancel := context.WithTimeout(r.Context(), h.reportTimeout)
	defer cancel()

	report, err := h.Scanner.HealthReport(ctx, filter)
	h.Metrics.observeReport(report, filtered, err)
	if err != nil {
		writeDomainError(w, "Failed to generate data health report", err)
		return
	}

	writeJSON(w, http.StatusOK, toDataHealthDTO(report))
}

// =============================================================================
// CHECKIN HANDLERS
// =============================================================================

// ListCheckins returns a page of raw check-ins.
// GET /api/admin/checkins?organization_id=&user_id=&status=&start_date=&end_date=&limit=&offset=
func (h *Handler) ListCheckins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ListCheckinsQuery{
		OrganizationID: q.Get("organization_id"),
		UserID:         q.Get("user_id"),
		Status:         q.Get("status"),
		StartDate:      q.Get("start_date"),
		EndDate:        q.Get("end_date"),
		Limit:          100,
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit"), "limit", query.Limit); err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	if query.Offset, err = intParam(q.Get("offset"), "offset", 0); err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	if err := validateRequest(query); err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	start, end, err := dateRange(query.StartDate, query.EndDate)
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}

	records, err := h.Backend.Scan(r.Context(), checkin.Filter{
		OrganizationID: checkin.OrganizationID(query.OrganizationID),
		UserID:         checkin.UserID(query.UserID),
		Status:         checkin.Status(query.Status),
		StartDate:      start,
		EndDate:        end,
		Limit:          query.Limit,
		Offset:         query.Offset,
	})
	if err != nil {
		writeDomainError(w, "Failed to list check-ins", err)
		return
	}

	writeJSON(w, http.StatusOK, CheckinListDTO{
		Checkins: toCheckinDTOs(records),
		Limit:    query.Limit,
		Offset:   query.Offset,
	})
}

// GetCheckin returns a single check-in.
func (h *Handler) GetCheckin(w http.ResponseWriter, r *http.Request) {
	id := checkin.CheckinID(chi.URLParam(r, "id"))

	rec, err := h.Backend.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get check-in", err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckinDTO(rec))
}

// EditCheckinWeek moves a check-in to the week containing week_start.
// PUT /api/admin/checkins/{id}/week
func (h *Handler) EditCheckinWeek(w http.ResponseWriter, r *http.Request) {
	id := checkin.CheckinID(chi.URLParam(r, "id"))

	var req EditWeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeDomainError(w, "Invalid request", err)
		return
	}
	ws, err := parseDate("week_start", req.WeekStart)
	if err != nil {
		writeDomainError(w, "Invalid request", err)
		return
	}

	rec, err := h.Reconciler.EditWeek(r.Context(), id, *ws)
	h.Metrics.observeRepair("edit_week", err)
	if err != nil {
		writeDomainError(w, "Failed to edit check-in week", err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckinDTO(rec))
}

// DeleteCheckin removes a check-in.
// DELETE /api/admin/checkins/{id}
func (h *Handler) DeleteCheckin(w http.ResponseWriter, r *http.Request) {
	id := checkin.CheckinID(chi.URLParam(r, "id"))

	err := h.Reconciler.Delete(r.Context(), id)
	h.Metrics.observeRepair("delete", err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, DeleteCheckinDTO{ID: string(id), Deleted: true})
	case checkin.IsNotFound(err):
		writeJSON(w, http.StatusOK, DeleteCheckinDTO{ID: string(id), AlreadyGone: true})
	default:
		writeDomainError(w, "Failed to delete check-in", err)
	}
}

// CreateCheckin creates a check-in on behalf of a user.
// POST /api/admin/checkins
func (h *Handler) CreateCheckin(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeDomainError(w, "Invalid request", err)
		return
	}
	ws, err := parseDate("week_start", req.WeekStart)
	if err != nil {
		writeDomainError(w, "Invalid request", err)
		return
	}

	rec, err := h.Reconciler.ManualCreate(r.Context(), checkin.ManualCheckin{
		OrganizationID: checkin.OrganizationID(req.OrganizationID),
		UserID:         checkin.UserID(req.UserID),
		WeekStart:      *ws,
		IsComplete:     req.IsComplete,
		Responses:      req.Responses,
	})
	h.Metrics.observeRepair("manual_create", err)
	if err != nil {
		writeDomainError(w, "Failed to create check-in", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckinDTO(rec))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Backend.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the checkin error taxonomy onto HTTP.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		verr     *checkin.ValidationError
		ref      *checkin.ReferenceError
		conflict *checkin.ConflictError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, resp.Code = http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &ref):
		status, resp.Code, resp.Field = http.StatusBadRequest, "reference", ref.Missing+"_id"
	case errors.As(err, &verr):
		status, resp.Code, resp.Field = http.StatusBadRequest, "validation", verr.Field
	case errors.As(err, &conflict):
		status, resp.Code, resp.ExistingID = http.StatusConflict, "conflict", string(conflict.ExistingID)
	case checkin.IsNotFound(err):
		status, resp.Code = http.StatusNotFound, "not_found"
	default:
		resp.Code = "internal"
	}
	writeJSON(w, status, resp)
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &checkin.ValidationError{Field: field, Message: "must be an integer"}
	}
	return n, nil
}
