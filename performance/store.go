/*
store.go - Persistence interfaces for the appraisal engine

PURPOSE:
  Defines the boundary between domain logic and the database. Scoring and
  workflow take these interfaces explicitly; nothing reaches for a global
  client. Implementations exist for SQLite and for memory.

KEY INTERFACES:
  RowStore:        Monthly rows, including the status compare-and-swap
  UnlockStore:     Unlock requests, with their own compare-and-swap
  AuditLog:        Append-only change audit
  DirectoryStore:  Users, entities and user-entity mappings (read mostly)
  AttendanceStore: Daily presence and the monthly attendance cache
  DelayStore:      Appraisal delays (upsert on natural key)
  Store:           All of the above
  TxStore:         Store plus WithTx for atomic multi-row writes

COMPARE-AND-SWAP:
  CompareAndSetStatus only writes when the stored status equals `from`.
  It returns (false, nil) when zero rows matched, which the workflow maps
  to ErrConflict. Two managers approving the same row therefore cannot
  both succeed.

NOT FOUND:
  Get* methods return (nil, nil) when the record does not exist. Callers
  decide whether absence is an error (workflow) or a default (scoring).

APPEND-ONLY AUDIT:
  AuditLog has Append and Query. There is no Update or Delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - performance/store/memory.go: In-memory with snapshot rollback

SEE ALSO:
  - workflow/workflow.go: Uses TxStore for transitions
  - scoring/pipeline.go: Uses Store for reads and score writes
*/
package performance

import (
	"context"
	"time"
)

// =============================================================================
// ROW STORE
// =============================================================================

type RowStore interface {
	// GetRow returns the row or (nil, nil).
	GetRow(ctx context.Context, id RowID) (*MonthlyRow, error)

	// GetRowByKey returns the row for (user, entity, month) or (nil, nil).
	GetRowByKey(ctx context.Context, key RowKey) (*MonthlyRow, error)

	// ListUserRows returns every row of a user for a month, any status.
	ListUserRows(ctx context.Context, userID UserID, month Month) ([]MonthlyRow, error)

	// ListRows returns rows matching the filter.
	ListRows(ctx context.Context, filter RowFilter) ([]MonthlyRow, error)

	// InsertRow creates a row. Returns ErrDuplicateRow if the key exists.
	InsertRow(ctx context.Context, row MonthlyRow) error

	// UpdateRowContent replaces KPI, learning and work summary, but only
	// while the row is still in one of the editable statuses. Returns false
	// when the guard did not match.
	UpdateRowContent(ctx context.Context, row MonthlyRow, editable []RowStatus) (bool, error)

	// CompareAndSetStatus writes change only if the row's status is from.
	CompareAndSetStatus(ctx context.Context, id RowID, from RowStatus, change StatusChange) (bool, error)

	// SaveComputedScores stores the pipeline output on a row.
	SaveComputedScores(ctx context.Context, id RowID, scores ComputedScores, at time.Time) error
}

// RowFilter narrows ListRows. Zero fields do not filter.
type RowFilter struct {
	UserIDs   []UserID
	ManagerID *UserID
	Statuses  []RowStatus
	Year      int
	Month     time.Month
}

// =============================================================================
// UNLOCK STORE
// =============================================================================

type UnlockStore interface {
	// CreateUnlockRequest inserts a pending request.
	// Returns ErrDuplicatePendingUnlock if the row already has one.
	CreateUnlockRequest(ctx context.Context, req UnlockRequest) error

	GetUnlockRequest(ctx context.Context, id UnlockRequestID) (*UnlockRequest, error)

	// PendingUnlockForRow returns the row's pending request or (nil, nil).
	PendingUnlockForRow(ctx context.Context, rowID RowID) (*UnlockRequest, error)

	// ListUnlockRequests returns requests for a manager in a status,
	// oldest first. An empty managerID or status does not filter.
	ListUnlockRequests(ctx context.Context, managerID UserID, status UnlockStatus) ([]UnlockRequest, error)

	// CompareAndSetUnlock writes change only if the request's status is from.
	CompareAndSetUnlock(ctx context.Context, id UnlockRequestID, from UnlockStatus, change UnlockChange) (bool, error)
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

type AuditLog interface {
	AppendAudit(ctx context.Context, entry ChangeAudit) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]ChangeAudit, error)
}

// =============================================================================
// DIRECTORY - Users, entities, mappings
// =============================================================================

type DirectoryStore interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	SaveUser(ctx context.Context, u User) error

	// ListUsers returns all users, or the direct reports of managerID.
	ListUsers(ctx context.Context, managerID *UserID) ([]User, error)

	GetEntity(ctx context.Context, id EntityID) (*Entity, error)
	SaveEntity(ctx context.Context, e Entity) error

	// ListMappings returns the user's mappings; activeOnly filters inactive ones.
	ListMappings(ctx context.Context, userID UserID, activeOnly bool) ([]UserEntityMapping, error)
	SaveMapping(ctx context.Context, m UserEntityMapping) error
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStore interface {
	// GetAttendanceCache returns the cache row or (nil, nil).
	GetAttendanceCache(ctx context.Context, userID UserID, month Month) (*AttendanceMonthlyCache, error)

	// SaveAttendanceCache upserts on (user, month).
	SaveAttendanceCache(ctx context.Context, c AttendanceMonthlyCache) error

	// SaveDailyAttendance upserts on (user, date).
	SaveDailyAttendance(ctx context.Context, d DailyAttendance) error

	ListDailyAttendance(ctx context.Context, userID UserID, month Month) ([]DailyAttendance, error)
}

// =============================================================================
// APPRAISAL DELAYS
// =============================================================================

type DelayStore interface {
	// UpsertAppraisalDelay writes on (user, month, reason). Repeated calls
	// with the same values leave exactly one row.
	UpsertAppraisalDelay(ctx context.Context, d AppraisalDelay) error

	// ClearAppraisalDelay removes the delay for (user, month, reason), if any.
	ClearAppraisalDelay(ctx context.Context, userID UserID, month Month, reason DelayReason) error

	ListAppraisalDelays(ctx context.Context, userID UserID, month Month) ([]AppraisalDelay, error)
}

// =============================================================================
// STORE + TRANSACTIONS
// =============================================================================

// Store is every persistence capability the engine needs.
type Store interface {
	RowStore
	UnlockStore
	AuditLog
	DirectoryStore
	AttendanceStore
	DelayStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
