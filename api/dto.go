/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Directory:
    UserDTO, CreateUserRequest, EntityDTO, CreateEntityRequest, MappingRequest

  Rows:
    RowDTO, SaveDraftRequest, ApproveRequest, ReturnRequest

  Unlocks:
    UnlockRequestDTO, RequestUnlockRequest, DecisionRequest

  Scores and reports:
    BatchRequest, UserReportDTO, DelayDTO

  Attendance:
    RecordAttendanceRequest, AttendanceCacheDTO

  Audit:
    AuditDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONTHS:
  Months travel as "YYYY-MM" strings; performance.Month marshals itself.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/report"
	"github.com/warp/appraisal-engine/scoring"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type UserDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	ManagerID *string `json:"manager_id,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	ManagerID *string `json:"manager_id"`
}

type EntityDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type CreateEntityRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// MappingRequest creates or replaces a user-entity mapping. Active defaults
// to true.
type MappingRequest struct {
	UserID           string `json:"user_id"`
	EntityID         string `json:"entity_id"`
	ExpectedProjects int    `json:"expected_projects"`
	ExpectedUnits    int    `json:"expected_units"`
	Active           *bool  `json:"active"`
}

// =============================================================================
// ROWS
// =============================================================================

// RowDTO represents a monthly row in API responses.
type RowDTO struct {
	ID             string                      `json:"id"`
	UserID         string                      `json:"user_id"`
	EntityID       string                      `json:"entity_id"`
	Month          performance.Month           `json:"month"`
	Status         string                      `json:"status"`
	KPI            performance.KPI             `json:"kpi"`
	Learning       []performance.LearningEntry `json:"learning"`
	WorkSummary    string                      `json:"work_summary,omitempty"`
	Reviewer       *string                     `json:"reviewer,omitempty"`
	ReviewNotes    string                      `json:"review_notes,omitempty"`
	SubmittedAt    *string                     `json:"submitted_at,omitempty"`
	ApprovedAt     *string                     `json:"approved_at,omitempty"`
	ReturnedAt     *string                     `json:"returned_at,omitempty"`
	UnlockedAt     *string                     `json:"unlocked_at,omitempty"`
	ComputedScores *performance.ComputedScores `json:"computed_scores,omitempty"`
	LastComputedAt *string                     `json:"last_computed_at,omitempty"`
	UpdatedAt      string                      `json:"updated_at"`
}

// SaveDraftRequest creates a draft or edits a draft/returned row's content.
type SaveDraftRequest struct {
	UserID      string                      `json:"user_id"`
	EntityID    string                      `json:"entity_id"`
	Month       performance.Month           `json:"month"`
	KPI         performance.KPI             `json:"kpi"`
	Learning    []performance.LearningEntry `json:"learning"`
	WorkSummary string                      `json:"work_summary"`
}

type ApproveRequest struct {
	Notes *string `json:"notes"`
}

type ReturnRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// UNLOCKS
// =============================================================================

type UnlockRequestDTO struct {
	ID           string  `json:"id"`
	RowID        string  `json:"row_id"`
	RequestedBy  string  `json:"requested_by"`
	ManagerID    string  `json:"manager_id"`
	Reason       string  `json:"reason"`
	Status       string  `json:"status"`
	DecisionNote string  `json:"decision_note,omitempty"`
	CreatedAt    string  `json:"created_at"`
	DecidedAt    *string `json:"decided_at,omitempty"`
}

type RequestUnlockRequest struct {
	Reason string `json:"reason"`
}

type DecisionRequest struct {
	Note string `json:"note"`
}

// UnlockDecisionDTO is the result of approving or rejecting an unlock.
// Row is present only after an approval.
type UnlockDecisionDTO struct {
	Request UnlockRequestDTO `json:"request"`
	Row     *RowDTO          `json:"row,omitempty"`
}

// =============================================================================
// SCORES AND REPORTS
// =============================================================================

type BatchRequest struct {
	UserIDs []string          `json:"user_ids"`
	Month   performance.Month `json:"month"`
}

type DelayDTO struct {
	Reason         string `json:"reason"`
	DeficitMinutes int    `json:"deficit_minutes"`
	UpdatedAt      string `json:"updated_at"`
}

// UserReportDTO is the JSON form of report.UserReport.
type UserReportDTO struct {
	UserID          string             `json:"user_id"`
	Month           performance.Month  `json:"month"`
	Scores          report.Scores      `json:"scores"`
	Details         *scoring.UserMonth `json:"details"`
	MonthlyRows     []RowDTO           `json:"monthly_rows"`
	AppraisalDelays []DelayDTO         `json:"appraisal_delays"`
	Flags           []string           `json:"flags"`
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type RecordAttendanceRequest struct {
	UserID          string `json:"user_id"`
	Date            string `json:"date"` // YYYY-MM-DD
	Presence        string `json:"presence"`
	MeetingAttended bool   `json:"meeting_attended"`
}

type AttendanceCacheDTO struct {
	UserID                string            `json:"user_id"`
	Month                 performance.Month `json:"month"`
	OfficeDaysPresent     int               `json:"office_days_present"`
	OfficeDaysWithMeeting int               `json:"office_days_with_meeting"`
	WFHDays               int               `json:"wfh_days"`
	Leaves                int               `json:"leaves"`
	WorkingDaysExpected   int               `json:"working_days_expected"`
	OfficeAttendanceRate  decimal.Decimal   `json:"office_attendance_rate"`
	MeetingAttendanceRate decimal.Decimal   `json:"meeting_attendance_rate"`
	DisciplineComponent   decimal.Decimal   `json:"discipline_component"`
	ComputedAt            string            `json:"computed_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditDTO struct {
	ID        string `json:"id"`
	TableName string `json:"table_name"`
	RecordID  string `json:"record_id"`
	FieldName string `json:"field_name"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	ChangedBy string `json:"changed_by"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response. Kind is one of
// validation, unauthorized, not_found, conflict, timeout, internal.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u performance.User) UserDTO {
	dto := UserDTO{ID: string(u.ID), Name: u.Name, Email: u.Email}
	if u.ManagerID != nil {
		m := string(*u.ManagerID)
		dto.ManagerID = &m
	}
	if !u.CreatedAt.IsZero() {
		dto.CreatedAt = u.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRowDTO(r performance.MonthlyRow) RowDTO {
	dto := RowDTO{
		ID:             string(r.ID),
		UserID:         string(r.UserID),
		EntityID:       string(r.EntityID),
		Month:          r.Month,
		Status:         string(r.Status),
		KPI:            r.KPI,
		Learning:       r.Learning,
		WorkSummary:    r.WorkSummary,
		ReviewNotes:    r.ReviewNotes,
		SubmittedAt:    timePtr(r.SubmittedAt),
		ApprovedAt:     timePtr(r.ApprovedAt),
		ReturnedAt:     timePtr(r.ReturnedAt),
		UnlockedAt:     timePtr(r.UnlockedAt),
		ComputedScores: r.ComputedScores,
		LastComputedAt: timePtr(r.LastComputedAt),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if dto.Learning == nil {
		dto.Learning = []performance.LearningEntry{}
	}
	if r.Reviewer != nil {
		reviewer := string(*r.Reviewer)
		dto.Reviewer = &reviewer
	}
	return dto
}

func toRowDTOs(rows []performance.MonthlyRow) []RowDTO {
	dtos := make([]RowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = toRowDTO(r)
	}
	return dtos
}

func toUnlockDTO(req performance.UnlockRequest) UnlockRequestDTO {
	return UnlockRequestDTO{
		ID:           string(req.ID),
		RowID:        string(req.RowID),
		RequestedBy:  string(req.RequestedBy),
		ManagerID:    string(req.ManagerID),
		Reason:       req.Reason,
		Status:       string(req.Status),
		DecisionNote: req.DecisionNote,
		CreatedAt:    req.CreatedAt.Format(time.RFC3339),
		DecidedAt:    timePtr(req.DecidedAt),
	}
}

func toUserReportDTO(r *report.UserReport) UserReportDTO {
	delays := make([]DelayDTO, len(r.AppraisalDelays))
	for i, d := range r.AppraisalDelays {
		delays[i] = DelayDTO{
			Reason:         string(d.Reason),
			DeficitMinutes: d.DeficitMinutes,
			UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
		}
	}
	return UserReportDTO{
		UserID:          string(r.UserID),
		Month:           r.Month,
		Scores:          r.Scores,
		Details:         r.Details,
		MonthlyRows:     toRowDTOs(r.MonthlyRows),
		AppraisalDelays: delays,
		Flags:           r.Flags,
	}
}

func toAttendanceDTO(c performance.AttendanceMonthlyCache) AttendanceCacheDTO {
	return AttendanceCacheDTO{
		UserID:                string(c.UserID),
		Month:                 c.Month,
		OfficeDaysPresent:     c.OfficeDaysPresent,
		OfficeDaysWithMeeting: c.OfficeDaysWithMeeting,
		WFHDays:               c.WFHDays,
		Leaves:                c.Leaves,
		WorkingDaysExpected:   c.WorkingDaysExpected,
		OfficeAttendanceRate:  c.OfficeAttendanceRate,
		MeetingAttendanceRate: c.MeetingAttendanceRate,
		DisciplineComponent:   c.DisciplineComponent,
		ComputedAt:            c.ComputedAt.Format(time.RFC3339),
	}
}

func toAuditDTO(e performance.ChangeAudit) AuditDTO {
	return AuditDTO{
		ID:        e.ID,
		TableName: e.TableName,
		RecordID:  e.RecordID,
		FieldName: e.FieldName,
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		ChangedBy: e.ChangedBy,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
