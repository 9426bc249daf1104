/*
scenarios.go - Demo datasets for exercising the data health console

PURPOSE:

	Provides named datasets that reset the store and seed records
	exhibiting each anomaly the integrity scanner detects. Dates are
	relative to the current week so "future" stays in the future.

AVAILABLE SCENARIOS:

	clean:             Four past weeks for three users, no anomalies
	future-checkins:   Clean data plus records for upcoming weeks
	mismatched-dates:  Clean data plus due dates not derived from week start
	duplicates:        Clean data plus drifted records sharing a week
	orphans:           Clean data plus records of a deleted user and org
	mixed:             Every anomaly at once

DIRECTORY:

	org-acme    alice, bob
	org-globex  carol
	org-initech erin (organization deleted in orphans/mixed)
	            dave in org-acme (user deleted in orphans/mixed)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "duplicates"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/checkin-integrity/checkin"
	"github.com/warp/checkin-integrity/week"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clean",
		Name:        "Clean",
		Description: "Four past weeks of check-ins for three users; no anomalies",
	},
	{
		ID:          "future-checkins",
		Name:        "Future Check-ins",
		Description: "Check-ins created for weeks that have not started yet",
	},
	{
		ID:          "mismatched-dates",
		Name:        "Mismatched Dates",
		Description: "Due dates stored independently of the week start",
	},
	{
		ID:          "duplicates",
		Name:        "Duplicates",
		Description: "Drifted week starts that collapse into the same week",
	},
	{
		ID:          "orphans",
		Name:        "Orphans",
		Description: "Check-ins of a deleted user and of a deleted organization",
	},
	{
		ID:          "mixed",
		Name:        "Mixed",
		Description: "Every anomaly at once, including records in several buckets",
	},
}

// scenarioLoaders seed a freshly reset backend. current is the Monday of
// the current week.
var scenarioLoaders = map[string]func(s *seeder){
	"clean": loadClean,
	"future-checkins": func(s *seeder) {
		loadClean(s)
		loadFuture(s)
	},
	"mismatched-dates": func(s *seeder) {
		loadClean(s)
		loadMismatched(s)
	},
	"duplicates": func(s *seeder) {
		loadClean(s)
		loadDuplicates(s)
	},
	"orphans": func(s *seeder) {
		loadClean(s)
		loadOrphans(s)
	},
	"mixed": func(s *seeder) {
		loadClean(s)
		loadFuture(s)
		loadMismatched(s)
		loadDuplicates(s)
		loadOrphans(s)
		// future, duplicated and orphaned at the same time
		s.checkin("dave-next-a", "org-acme", "dave", s.weeks(1))
		s.checkin("dave-next-b", "org-acme", "dave", s.weeks(1).Add(36*time.Hour))
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the backend and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeDomainError(w, "Invalid request", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), load); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, load func(*seeder)) error {
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := h.Backend.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	s := &seeder{ctx: ctx, b: h.Backend, current: week.Current(h.now())}
	s.directory()
	load(s)
	return s.err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var cleanUsers = []struct {
	org  checkin.OrganizationID
	user checkin.UserID
}{
	{"org-acme", "alice"},
	{"org-acme", "bob"},
	{"org-globex", "carol"},
}

// loadClean writes weeks -4..-1 for every user. Earlier weeks are submitted
// on Friday evening except bob's week -2, which came in late. Week -1 is open.
func loadClean(s *seeder) {
	for _, u := range cleanUsers {
		for n := -4; n <= -1; n++ {
			ws := s.weeks(n)
			id := fmt.Sprintf("%s-w%d", u.user, -n)
			switch {
			case n == -1:
				s.checkin(id, u.org, u.user, ws)
			case n == -2 && u.user == "bob":
				s.checkin(id, u.org, u.user, ws, submittedAt(ws.AddDate(0, 0, 9)))
			default:
				s.checkin(id, u.org, u.user, ws, submittedAt(ws.AddDate(0, 0, 4).Add(17*time.Hour)))
			}
		}
	}
}

func loadFuture(s *seeder) {
	s.checkin("alice-next", "org-acme", "alice", s.weeks(1))
	s.checkin("carol-plus3", "org-globex", "carol", s.weeks(3))
}

func loadMismatched(s *seeder) {
	ws := s.weeks(-6)
	s.checkin("alice-w6-early-due", "org-acme", "alice", ws, dueDate(ws.AddDate(0, 0, 3)))
	ws = s.weeks(-7)
	s.checkin("bob-w7-late-due", "org-acme", "bob", ws, dueDate(ws.AddDate(0, 0, 9)))
}

// loadDuplicates adds two drifted copies of alice's week -2, which the
// unique index accepts because the stored instants differ.
func loadDuplicates(s *seeder) {
	ws := s.weeks(-2)
	s.checkin("alice-w2-morning", "org-acme", "alice", ws.Add(9*time.Hour))
	s.checkin("alice-w2-wednesday", "org-acme", "alice", ws.AddDate(0, 0, 2))
}

func loadOrphans(s *seeder) {
	s.checkin("dave-w1", "org-acme", "dave", s.weeks(-1))
	s.checkin("dave-w2", "org-acme", "dave", s.weeks(-2))
	s.checkin("erin-w1", "org-initech", "erin", s.weeks(-1))

	s.do(func() error { return s.b.DeleteUser(s.ctx, "dave") })
	s.do(func() error { return s.b.DeleteOrganization(s.ctx, "org-initech") })
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder writes fixtures and keeps the first error.
type seeder struct {
	ctx     context.Context
	b       Backend
	current time.Time
	err     error
}

func (s *seeder) do(fn func() error) {
	if s.err == nil {
		s.err = fn()
	}
}

func (s *seeder) weeks(n int) time.Time {
	return s.current.AddDate(0, 0, 7*n)
}

func (s *seeder) directory() {
	orgs := []checkin.Organization{
		{ID: "org-acme", Name: "Acme Corp"},
		{ID: "org-globex", Name: "Globex"},
		{ID: "org-initech", Name: "Initech"},
	}
	users := []checkin.User{
		{ID: "alice", OrganizationID: "org-acme", Name: "Alice Martin", Email: "alice@acme.test"},
		{ID: "bob", OrganizationID: "org-acme", Name: "Bob Chen", Email: "bob@acme.test"},
		{ID: "dave", OrganizationID: "org-acme", Name: "Dave Okafor", Email: "dave@acme.test"},
		{ID: "carol", OrganizationID: "org-globex", Name: "Carol Diaz", Email: "carol@globex.test"},
		{ID: "erin", OrganizationID: "org-initech", Name: "Erin Walsh", Email: "erin@initech.test"},
	}
	for _, o := range orgs {
		s.do(func() error { return s.b.SaveOrganization(s.ctx, o) })
	}
	for _, u := range users {
		s.do(func() error { return s.b.SaveUser(s.ctx, u) })
	}
}

func (s *seeder) checkin(id string, org checkin.OrganizationID, user checkin.UserID, weekStart time.Time, mutate ...func(*checkin.Record)) {
	r := checkin.Record{
		ID:             checkin.CheckinID(id),
		OrganizationID: org,
		UserID:         user,
		WeekStart:      weekStart,
		DueDate:        week.DueDate(weekStart),
		Responses:      map[string]any{"highlights": "seeded by scenario"},
	}
	for _, m := range mutate {
		m(&r)
	}
	s.do(func() error {
		_, err := s.b.Insert(s.ctx, r)
		return err
	})
}

func submittedAt(at time.Time) func(*checkin.Record) {
	return func(r *checkin.Record) {
		r.SubmittedAt = &at
		r.IsComplete = true
	}
}

func dueDate(d time.Time) func(*checkin.Record) {
	return func(r *checkin.Record) { r.DueDate = d }
}
