/*
handlers.go - HTTP API handlers for the appraisal engine

PURPOSE:
  Exposes scoring, the row workflow, attendance and reports via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain services.

ENDPOINTS:
  Directory:
    GET    /api/users                               List users (?manager_id=)
    POST   /api/users                               Create or update user
    POST   /api/entities                            Create or update entity
    POST   /api/mappings                            Create or update mapping

  Rows:
    PUT    /api/rows                                Save draft
    GET    /api/rows/{id}                           Get row
    POST   /api/rows/{id}/submit                    Submit (owner)
    POST   /api/rows/{id}/approve                   Approve (manager)
    POST   /api/rows/{id}/return                    Return (manager)
    GET    /api/rows/{id}/score                     Row score (recomputes)
    POST   /api/rows/{id}/unlock-requests           Request unlock (owner)

  Unlock requests:
    POST   /api/unlock-requests/{id}/approve        Approve unlock (manager)
    POST   /api/unlock-requests/{id}/reject         Reject unlock (manager)

  Scores and reports:
    POST   /api/users/{id}/scores/{month}/recompute Recompute user-month
    POST   /api/scores/batch                        Batch recompute
    GET    /api/users/{id}/reports/{month}          User month report
    GET    /api/reports/team                        Team summary (?month=&team_id=)

  Manager queues:
    GET    /api/managers/{id}/pending-review        Submitted rows to review
    GET    /api/managers/{id}/unlock-requests       Pending unlock requests
    GET    /api/workflow/stats                      Workflow stats (?year=&month=)

  Attendance:
    POST   /api/attendance                          Record one day
    POST   /api/users/{id}/attendance/{month}/aggregate

  Audit:
    GET    /api/audit                               (?table=&record_id=&changed_by=&limit=)

ACTOR:
  Workflow endpoints read the acting user from the X-Actor-ID header.
  There is no authentication; the header stands in for a session.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing X-Actor-ID
  - 403: Actor is not the owner / assigned manager
  - 404: Resource not found
  - 409: Conflict (concurrent transition, duplicate pending unlock)
  - 503: Datastore call timed out
  - 500: Internal errors

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

	"github.com/warp/appraisal-engine/attendance"
	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/report"
	"github.com/warp/appraisal-engine/scoring"
	"github.com/warp/appraisal-engine/store/sqlite"
	"github.com/warp/appraisal-engine/workflow"
)

// ActorHeader carries the acting user's ID.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Pipeline   *scoring.Pipeline
	Workflow   *workflow.Service
	Reports    *report.Service
	Attendance *attendance.Aggregator
	Logger     *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services over store.
func NewHandler(store *sqlite.Store, cfg scoring.Config, policy attendance.DisciplinePolicy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	agg := attendance.NewAggregator(store, policy, logger.Named("attendance"))
	pipeline := scoring.NewPipeline(store, agg, cfg, logger.Named("scoring"))
	return &Handler{
		Store:      store,
		Pipeline:   pipeline,
		Workflow:   workflow.NewService(store, logger.Named("workflow"), cfg.CallTimeout),
		Reports:    report.NewService(pipeline, store, logger.Named("report")),
		Attendance: agg,
		Logger:     logger,
	}
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListUsers returns all users, or a manager's direct reports.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var managerID *performance.UserID
	if m := r.URL.Query().Get("manager_id"); m != "" {
		id := performance.UserID(m)
		managerID = &id
	}
	users, err := h.Store.ListUsers(r.Context(), managerID)
	if err != nil {
		h.writeDomainError(w, performance.WrapStore("list users", err))
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates or updates a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	u := performance.User{ID: performance.UserID(req.ID), Name: req.Name, Email: req.Email, CreatedAt: time.Now().UTC()}
	if req.ManagerID != nil && *req.ManagerID != "" {
		if *req.ManagerID == req.ID {
			writeError(w, http.StatusBadRequest, "A user cannot manage themselves", nil)
			return
		}
		m := performance.UserID(*req.ManagerID)
		u.ManagerID = &m
	}
	if err := h.Store.SaveUser(r.Context(), u); err != nil {
		h.writeDomainError(w, performance.WrapStore("save user", err))
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// CreateEntity creates or updates a client or project.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if !decode(w, r, &req) {
		return
	}
	typ := performance.EntityType(req.Type)
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	if typ != performance.EntityClient && typ != performance.EntityProject {
		writeError(w, http.StatusBadRequest, "type must be client or project", nil)
		return
	}

	e := performance.Entity{ID: performance.EntityID(req.ID), Name: req.Name, Type: typ, CreatedAt: time.Now().UTC()}
	if err := h.Store.SaveEntity(r.Context(), e); err != nil {
		h.writeDomainError(w, performance.WrapStore("save entity", err))
		return
	}
	writeJSON(w, http.StatusCreated, EntityDTO{ID: req.ID, Name: req.Name, Type: req.Type})
}

// CreateMapping creates or replaces a user-entity mapping with its quotas.
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "user_id and entity_id are required", nil)
		return
	}
	if req.ExpectedProjects < 0 || req.ExpectedUnits < 0 {
		writeError(w, http.StatusBadRequest, "Expected quotas cannot be negative", nil)
		return
	}

	m := performance.UserEntityMapping{
		UserID:           performance.UserID(req.UserID),
		EntityID:         performance.EntityID(req.EntityID),
		ExpectedProjects: req.ExpectedProjects,
		ExpectedUnits:    req.ExpectedUnits,
		Active:           req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveMapping(r.Context(), m); err != nil {
		h.writeDomainError(w, performance.WrapStore("save mapping", err))
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// ROW HANDLERS
// =============================================================================

// SaveDraft creates or edits the actor's row for an entity and month.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SaveDraftRequest
	if !decode(w, r, &req) {
		return
	}

	row, err := h.Workflow.SaveDraft(r.Context(), actor, workflow.DraftInput{
		UserID:      performance.UserID(req.UserID),
		EntityID:    performance.EntityID(req.EntityID),
		Month:       req.Month,
		KPI:         req.KPI,
		Learning:    req.Learning,
		WorkSummary: req.WorkSummary,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTO(*row))
}

// GetRow returns a single row.
func (h *Handler) GetRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.Store.GetRow(r.Context(), performance.RowID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, performance.WrapStore("get row", err))
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "Row not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTO(*row))
}

// SubmitRow moves the actor's draft or returned row to submitted.
func (h *Handler) SubmitRow(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	row, err := h.Workflow.Submit(r.Context(), actor, performance.RowID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTO(*row))
}

// ApproveRow approves a submitted row. The body is optional.
func (h *Handler) ApproveRow(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	row, err := h.Workflow.Approve(r.Context(), actor, performance.RowID(chi.URLParam(r, "id")), req.Notes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTO(*row))
}

// ReturnRow sends a submitted row back to its owner with a reason.
func (h *Handler) ReturnRow(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReturnRequest
	if !decode(w, r, &req) {
		return
	}
	row, err := h.Workflow.Return(r.Context(), actor, performance.RowID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTO(*row))
}

// GetRowScore recomputes the row's user-month and returns the row's score.
func (h *Handler) GetRowScore(w http.ResponseWriter, r *http.Request) {
	res, err := h.Pipeline.ComputeMonthlyRowScore(r.Context(), performance.RowID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// UNLOCK HANDLERS
// =============================================================================

// RequestUnlock asks the owner's manager to reopen an approved row.
func (h *Handler) RequestUnlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RequestUnlockRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := h.Workflow.RequestUnlock(r.Context(), actor, performance.RowID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnlockDTO(*created))
}

// ApproveUnlock approves a pending unlock; the row returns to draft.
func (h *Handler) ApproveUnlock(w http.ResponseWriter, r *http.Request) {
	h.decideUnlock(w, r, h.Workflow.ApproveUnlock)
}

// RejectUnlock rejects a pending unlock; the row stays approved.
func (h *Handler) RejectUnlock(w http.ResponseWriter, r *http.Request) {
	h.decideUnlock(w, r, h.Workflow.RejectUnlock)
}

type unlockDecision func(ctx context.Context, actor performance.UserID, id performance.UnlockRequestID, note string) (*workflow.UnlockResult, error)

func (h *Handler) decideUnlock(w http.ResponseWriter, r *http.Request, decide unlockDecision) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := decide(r.Context(), actor, performance.UnlockRequestID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto := UnlockDecisionDTO{Request: toUnlockDTO(res.Request)}
	if res.Row != nil {
		row := toRowDTO(*res.Row)
		dto.Row = &row
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SCORE AND REPORT HANDLERS
// =============================================================================

// RecomputeUserScores recomputes and persists one user-month.
func (h *Handler) RecomputeUserScores(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	u, err := h.Pipeline.Recompute(r.Context(), performance.UserID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// BatchComputeScores recomputes many users. Per-user failures are reported
// in the body; the response is 200 unless the request itself is invalid.
func (h *Handler) BatchComputeScores(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	ids := make([]performance.UserID, len(req.UserIDs))
	for i, id := range req.UserIDs {
		ids[i] = performance.UserID(id)
	}
	res, err := h.Pipeline.BatchCompute(r.Context(), ids, req.Month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetUserMonthReport returns the score breakdown, rows, delays and flags.
func (h *Handler) GetUserMonthReport(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.UserMonthScoreReport(r.Context(), performance.UserID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserReportDTO(rep))
}

// GetTeamReport returns the team roll-up. Without team_id every user is
// included.
func (h *Handler) GetTeamReport(w http.ResponseWriter, r *http.Request) {
	month, err := performance.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var teamID *performance.UserID
	if t := r.URL.Query().Get("team_id"); t != "" {
		id := performance.UserID(t)
		teamID = &id
	}
	rep, err := h.Reports.TeamSummaryReport(r.Context(), month, teamID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// =============================================================================
// MANAGER QUEUES
// =============================================================================

// PendingReview lists submitted rows of the manager's direct reports.
func (h *Handler) PendingReview(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Workflow.RowsPendingReview(r.Context(), performance.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRowDTOs(rows))
}

// PendingUnlocks lists the manager's pending unlock requests.
func (h *Handler) PendingUnlocks(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Workflow.PendingUnlockRequests(r.Context(), performance.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]UnlockRequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toUnlockDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// WorkflowStats summarizes a year, or one month of it.
func (h *Handler) WorkflowStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year is required", err)
		return
	}
	month := 0
	if m := q.Get("month"); m != "" {
		if month, err = strconv.Atoi(m); err != nil {
			writeError(w, http.StatusBadRequest, "month must be a number", err)
			return
		}
	}
	stats, err := h.Workflow.Stats(r.Context(), year, time.Month(month))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// RecordAttendance stores one day of presence and refreshes the month cache.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req RecordAttendanceRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	cache, err := h.Attendance.Record(r.Context(), performance.DailyAttendance{
		UserID:          performance.UserID(req.UserID),
		Date:            date,
		Presence:        performance.Presence(req.Presence),
		MeetingAttended: req.MeetingAttended,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceDTO(*cache))
}

// AggregateAttendance rebuilds a user-month attendance cache.
func (h *Handler) AggregateAttendance(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	cache, err := h.Attendance.Compute(r.Context(), performance.UserID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if cache == nil {
		writeError(w, http.StatusNotFound, "No attendance records for month", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(*cache))
}

// =============================================================================
// AUDIT
// =============================================================================

// QueryAudit returns audit entries in append order.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := performance.AuditFilter{
		TableName: q.Get("table"),
		RecordID:  q.Get("record_id"),
		ChangedBy: q.Get("changed_by"),
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative number", err)
			return
		}
		filter.Limit = limit
	}
	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, performance.WrapStore("query audit", err))
		return
	}
	dtos := make([]AuditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")
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

// writeDomainError maps the error taxonomy onto HTTP statuses. Workflow
// messages are shown verbatim; datastore causes are logged, not returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)

	message := "Internal error"
	var we *performance.WorkflowError
	switch {
	case errors.As(err, &we):
		message = we.Message
	case status == http.StatusServiceUnavailable:
		message = "Datastore call timed out; try again"
	case status != http.StatusInternalServerError:
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("kind", kind), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, performance.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, performance.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, performance.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, performance.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, performance.ErrTimeout):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (performance.UserID, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, ActorHeader+" header is required", nil)
		return "", false
	}
	return performance.UserID(actor), true
}

func monthParam(w http.ResponseWriter, r *http.Request) (performance.Month, bool) {
	month, err := performance.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return performance.Month{}, false
	}
	return month, true
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}
