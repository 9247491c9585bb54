/*
Package performance provides the domain model shared by the appraisal engine.

PURPOSE:
  This package holds the types every other package speaks: users and the
  entities (clients, projects) they are mapped to, the monthly submission
  row, unlock requests, attendance cache rows, appraisal delays and the
  append-only change audit. It also defines the store interfaces the
  scoring pipeline and workflow are written against.

KEY CONCEPTS IN THIS FILE (types.go):
  - MonthlyRow: one user's record for one entity for one month
  - RowStatus: draft → submitted → approved | returned
  - UserEntityMapping: per-entity quotas that drive accountability
  - AttendanceMonthlyCache: derived monthly attendance figures
  - UnlockRequest: manager-gated reopening of an approved row
  - AppraisalDelay: learning shortfall flag consumed by HR

DESIGN PRINCIPLES:
  1. Typed IDs: UserID, EntityID and RowID cannot be mixed up
  2. Precision: scores and rates use decimal.Decimal
  3. Validated blobs: KPI and learning are parsed at the store boundary
     (see payload.go), never passed around as raw maps

SEE ALSO:
  - month.go: Month period type ("YYYY-MM")
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
*/
package performance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntityID string
type RowID string
type UnlockRequestID string

// =============================================================================
// USERS AND ENTITIES
// =============================================================================

// User is an employee. ManagerID is nil for users nobody reviews.
type User struct {
	ID        UserID
	Name      string
	Email     string
	ManagerID *UserID
	CreatedAt time.Time
}

// IsManagedBy reports whether managerID is the user's assigned manager.
func (u User) IsManagedBy(managerID UserID) bool {
	return u.ManagerID != nil && *u.ManagerID == managerID
}

type EntityType string

const (
	EntityClient  EntityType = "client"
	EntityProject EntityType = "project"
)

// Entity is a client or project a user can be mapped to.
type Entity struct {
	ID        EntityID
	Name      string
	Type      EntityType
	CreatedAt time.Time
}

// UserEntityMapping carries the quotas a user owes an entity per month.
// ExpectedUnits is zero when the entity has no finer-grained quota.
type UserEntityMapping struct {
	UserID           UserID
	EntityID         EntityID
	ExpectedProjects int
	ExpectedUnits    int
	Active           bool
}

// =============================================================================
// MONTHLY ROW - The central mutable record
// =============================================================================

type RowStatus string

const (
	StatusDraft     RowStatus = "draft"
	StatusSubmitted RowStatus = "submitted"
	StatusReturned  RowStatus = "returned"
	StatusApproved  RowStatus = "approved"
)

// Valid reports whether s is one of the four known statuses.
func (s RowStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusReturned, StatusApproved:
		return true
	}
	return false
}

// RowKey is the natural key of a MonthlyRow. Exactly one row exists per key.
type RowKey struct {
	UserID   UserID
	EntityID EntityID
	Month    Month
}

// MonthlyRow is one user's performance record for one entity for one month.
type MonthlyRow struct {
	ID       RowID
	UserID   UserID
	EntityID EntityID
	Month    Month

	Status      RowStatus
	KPI         KPI
	Learning    []LearningEntry
	WorkSummary string

	// Review
	Reviewer    *UserID
	ReviewNotes string

	// Workflow timestamps
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	ReturnedAt  *time.Time
	UnlockedAt  *time.Time

	// Last pipeline output
	ComputedScores *ComputedScores
	LastComputedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the row's natural key.
func (r MonthlyRow) Key() RowKey {
	return RowKey{UserID: r.UserID, EntityID: r.EntityID, Month: r.Month}
}

// IsEditable reports whether the owner may change the row's content.
func (r MonthlyRow) IsEditable() bool {
	return r.Status == StatusDraft || r.Status == StatusReturned
}

// StatusChange describes a compare-and-swap status write on a MonthlyRow.
// Nil timestamp and reviewer fields are left untouched.
type StatusChange struct {
	To          RowStatus
	Reviewer    *UserID
	ReviewNotes *string
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	ReturnedAt  *time.Time
	UnlockedAt  *time.Time
	At          time.Time
}

// Apply copies the change onto row. Used by store implementations.
func (c StatusChange) Apply(row *MonthlyRow) {
	row.Status = c.To
	if c.Reviewer != nil {
		reviewer := *c.Reviewer
		row.Reviewer = &reviewer
	}
	if c.ReviewNotes != nil {
		row.ReviewNotes = *c.ReviewNotes
	}
	if c.SubmittedAt != nil {
		row.SubmittedAt = c.SubmittedAt
	}
	if c.ApprovedAt != nil {
		row.ApprovedAt = c.ApprovedAt
	}
	if c.ReturnedAt != nil {
		row.ReturnedAt = c.ReturnedAt
	}
	if c.UnlockedAt != nil {
		row.UnlockedAt = c.UnlockedAt
	}
	row.UpdatedAt = c.At
}

// =============================================================================
// COMPUTED SCORES - Pipeline output persisted on each row
// =============================================================================

// ComputedScores is the pipeline output stored on every row of a user-month.
// It holds no timestamps so that recomputing unchanged data yields an
// identical value.
type ComputedScores struct {
	Accountability decimal.Decimal `json:"accountability"`
	Output         decimal.Decimal `json:"output"`
	RowOutput      decimal.Decimal `json:"row_output"`
	RowScore       decimal.Decimal `json:"row_score"`
	Learning       decimal.Decimal `json:"learning"`
	Discipline     decimal.Decimal `json:"discipline"`
	UserMonthScore int             `json:"user_month_score"`
}

// Equal compares two score sets value by value.
func (c ComputedScores) Equal(o ComputedScores) bool {
	return c.Accountability.Equal(o.Accountability) &&
		c.Output.Equal(o.Output) &&
		c.RowOutput.Equal(o.RowOutput) &&
		c.RowScore.Equal(o.RowScore) &&
		c.Learning.Equal(o.Learning) &&
		c.Discipline.Equal(o.Discipline) &&
		c.UserMonthScore == o.UserMonthScore
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type Presence string

const (
	PresenceOffice Presence = "office"
	PresenceWFH    Presence = "wfh"
	PresenceLeave  Presence = "leave"
	PresenceAbsent Presence = "absent"
)

// DailyAttendance is one presence entry for one user on one day.
type DailyAttendance struct {
	UserID          UserID
	Date            time.Time
	Presence        Presence
	MeetingAttended bool
}

// AttendanceMonthlyCache is derived from DailyAttendance by the aggregator.
// It is recomputable and never edited by hand.
type AttendanceMonthlyCache struct {
	UserID                UserID
	Month                 Month
	OfficeDaysPresent     int
	OfficeDaysWithMeeting int
	WFHDays               int
	Leaves                int
	WorkingDaysExpected   int
	OfficeAttendanceRate  decimal.Decimal
	MeetingAttendanceRate decimal.Decimal
	DisciplineComponent   decimal.Decimal
	ComputedAt            time.Time
}

// =============================================================================
// UNLOCK REQUESTS
// =============================================================================

type UnlockStatus string

const (
	UnlockPending  UnlockStatus = "pending"
	UnlockApproved UnlockStatus = "approved"
	UnlockRejected UnlockStatus = "rejected"
)

// UnlockRequest asks the assigned manager to reopen an approved row.
type UnlockRequest struct {
	ID           UnlockRequestID
	RowID        RowID
	RequestedBy  UserID
	ManagerID    UserID
	Reason       string
	Status       UnlockStatus
	DecisionNote string
	CreatedAt    time.Time
	DecidedAt    *time.Time
}

// UnlockChange describes a compare-and-swap write on an UnlockRequest.
type UnlockChange struct {
	To           UnlockStatus
	DecisionNote string
	At           time.Time
}

// =============================================================================
// APPRAISAL DELAY
// =============================================================================

type DelayReason string

const DelayInsufficientLearning DelayReason = "insufficient_learning"

// AppraisalDelay is keyed by (UserID, Month, Reason).
type AppraisalDelay struct {
	UserID         UserID
	Month          Month
	Reason         DelayReason
	DeficitMinutes int
	UpdatedAt      time.Time
}
