/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the database with realistic
	data for demos. Every scenario drives the real workflow and pipeline
	(SaveDraft, Submit, Approve, RequestUnlock, Recompute), so the audit
	trail and computed scores look exactly as they would in production.

AVAILABLE SCENARIOS:

	end-to-end:           One approved row, learning and attendance, scored
	returned-resubmitted: Manager returns a row, owner fixes and resubmits
	unlock-flow:          Approved row with a pending unlock request
	learning-shortfall:   Two reports, one with no learning and no attendance

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create users, entities and mappings
 3. Drive rows through the workflow as their owners and manager
 4. Record attendance and recompute scores where relevant

All scenarios use the month before the workflow clock's current month.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "unlock-flow"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - workflow/workflow.go: The transitions scenarios drive
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/workflow"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "end-to-end",
		Name:        "End-to-End Appraisal",
		Description: "Draft, submit, approve, attendance and recompute for one employee",
	},
	{
		ID:          "returned-resubmitted",
		Name:        "Returned and Resubmitted",
		Description: "Manager returns a row with a reason; the owner edits and resubmits",
	},
	{
		ID:          "unlock-flow",
		Name:        "Unlock Request",
		Description: "Approved row with a pending unlock request in the manager's queue",
	},
	{
		ID:          "learning-shortfall",
		Name:        "Learning Shortfall",
		Description: "Team of two; one member has no learning and no attendance records",
	},
}

const (
	demoManager = performance.UserID("maya")
	demoOwner   = performance.UserID("alice")
	demoPeer    = performance.UserID("bob")
	demoEntity  = performance.EntityID("acme")
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"end-to-end":           h.loadEndToEndScenario,
		"returned-resubmitted": h.loadReturnedScenario,
		"unlock-flow":          h.loadUnlockScenario,
		"learning-shortfall":   h.loadLearningShortfallScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.setScenario(req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"month":    h.scenarioMonth().String(),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEndToEndScenario(ctx context.Context) error {
	month := h.scenarioMonth()
	if err := h.seedTeam(ctx, demoOwner); err != nil {
		return err
	}

	row, err := h.draft(ctx, demoOwner, month, 2, 300, "Shipped billing v2 and the reporting API")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, demoOwner, row.ID); err != nil {
		return err
	}
	notes := "Great month, both projects delivered"
	if _, err := h.Workflow.Approve(ctx, demoManager, row.ID, &notes); err != nil {
		return err
	}

	if err := h.recordOfficeMonth(ctx, demoOwner, month); err != nil {
		return err
	}
	_, err = h.Pipeline.Recompute(ctx, demoOwner, month)
	return err
}

func (h *Handler) loadReturnedScenario(ctx context.Context) error {
	month := h.scenarioMonth()
	if err := h.seedTeam(ctx, demoOwner); err != nil {
		return err
	}

	row, err := h.draft(ctx, demoOwner, month, 1, 120, "")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, demoOwner, row.ID); err != nil {
		return err
	}
	if _, err := h.Workflow.Return(ctx, demoManager, row.ID, "Please add a work summary and the second delivery"); err != nil {
		return err
	}

	// Owner fixes the row and resubmits; it is back in the manager's queue.
	if _, err := h.draft(ctx, demoOwner, month, 2, 360, "Delivered onboarding revamp and the search migration"); err != nil {
		return err
	}
	_, err = h.Workflow.Submit(ctx, demoOwner, row.ID)
	return err
}

func (h *Handler) loadUnlockScenario(ctx context.Context) error {
	month := h.scenarioMonth()
	if err := h.seedTeam(ctx, demoOwner); err != nil {
		return err
	}

	row, err := h.draft(ctx, demoOwner, month, 2, 400, "Closed out both client projects")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, demoOwner, row.ID); err != nil {
		return err
	}
	if _, err := h.Workflow.Approve(ctx, demoManager, row.ID, nil); err != nil {
		return err
	}
	_, err = h.Workflow.RequestUnlock(ctx, demoOwner, row.ID, "Delivered count should include the hotfix release")
	return err
}

func (h *Handler) loadLearningShortfallScenario(ctx context.Context) error {
	month := h.scenarioMonth()
	if err := h.seedTeam(ctx, demoOwner, demoPeer); err != nil {
		return err
	}

	for _, u := range []struct {
		id       performance.UserID
		minutes  int
		summary  string
		attended bool
	}{
		{demoOwner, 420, "Led the payments integration", true},
		{demoPeer, 0, "Support rotation", false},
	} {
		row, err := h.draft(ctx, u.id, month, 1, u.minutes, u.summary)
		if err != nil {
			return err
		}
		if _, err := h.Workflow.Submit(ctx, u.id, row.ID); err != nil {
			return err
		}
		if _, err := h.Workflow.Approve(ctx, demoManager, row.ID, nil); err != nil {
			return err
		}
		if u.attended {
			if err := h.recordOfficeMonth(ctx, u.id, month); err != nil {
				return err
			}
		}
	}

	res, err := h.Pipeline.BatchCompute(ctx, []performance.UserID{demoOwner, demoPeer}, month)
	if err != nil {
		return err
	}
	if len(res.FailedUsers) > 0 {
		return fmt.Errorf("recompute failed for %s: %s", res.FailedUsers[0].UserID, res.FailedUsers[0].Error)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) scenarioMonth() performance.Month {
	return performance.MonthOf(h.Workflow.Now().UTC()).Previous()
}

// seedTeam creates the manager, the given reports and one client mapped to
// each report with a quota of two projects.
func (h *Handler) seedTeam(ctx context.Context, reports ...performance.UserID) error {
	now := h.Workflow.Now().UTC()
	manager := demoManager
	if err := h.Store.SaveUser(ctx, performance.User{ID: manager, Name: "Maya Manager", Email: "maya@example.com", CreatedAt: now}); err != nil {
		return err
	}
	if err := h.Store.SaveEntity(ctx, performance.Entity{ID: demoEntity, Name: "Acme Corp", Type: performance.EntityClient, CreatedAt: now}); err != nil {
		return err
	}
	for _, id := range reports {
		u := performance.User{ID: id, Name: string(id), Email: string(id) + "@example.com", ManagerID: &manager, CreatedAt: now}
		if err := h.Store.SaveUser(ctx, u); err != nil {
			return err
		}
		m := performance.UserEntityMapping{UserID: id, EntityID: demoEntity, ExpectedProjects: 2, Active: true}
		if err := h.Store.SaveMapping(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) draft(ctx context.Context, owner performance.UserID, month performance.Month, delivered, learningMinutes int, summary string) (*performance.MonthlyRow, error) {
	var learning []performance.LearningEntry
	if learningMinutes > 0 {
		learning = []performance.LearningEntry{{
			Topic:        "Go concurrency patterns",
			URL:          "https://go.dev/blog/pipelines",
			AppliedWhere: "Batch scoring worker pool",
			Minutes:      learningMinutes,
		}}
	}
	return h.Workflow.SaveDraft(ctx, owner, workflow.DraftInput{
		UserID:      owner,
		EntityID:    demoEntity,
		Month:       month,
		KPI:         performance.KPI{ExpectedProjects: 2, DeliveredProjects: delivered},
		Learning:    learning,
		WorkSummary: summary,
	})
}

// recordOfficeMonth records an office day with the stand-up attended for
// every weekday of the month.
func (h *Handler) recordOfficeMonth(ctx context.Context, userID performance.UserID, month performance.Month) error {
	for d := month.Start(); month.Contains(d); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if err := h.Attendance.Store.SaveDailyAttendance(ctx, performance.DailyAttendance{
			UserID: userID, Date: d, Presence: performance.PresenceOffice, MeetingAttended: true,
		}); err != nil {
			return err
		}
	}
	_, err := h.Attendance.Compute(ctx, userID, month)
	return err
}
