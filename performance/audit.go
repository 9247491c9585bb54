package performance

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CHANGE AUDIT - Append-only record of every transition and recompute
// =============================================================================

// ChangeAudit records who changed which field of which record, and why.
type ChangeAudit struct {
	ID        string
	TableName string
	RecordID  string
	FieldName string
	OldValue  string
	NewValue  string
	ChangedBy string
	Reason    string
	CreatedAt time.Time
}

const (
	TableMonthlyRows    = "monthly_rows"
	TableUnlockRequests = "unlock_requests"

	FieldStatus         = "status"
	FieldComputedScores = "computed_scores"
)

// SystemActor is recorded as ChangedBy for pipeline-driven changes.
const SystemActor = "system"

// NewAudit builds an entry with a fresh ID.
func NewAudit(table, recordID, field, oldValue, newValue, changedBy, reason string, at time.Time) ChangeAudit {
	return ChangeAudit{
		ID:        uuid.NewString(),
		TableName: table,
		RecordID:  recordID,
		FieldName: field,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: changedBy,
		Reason:    reason,
		CreatedAt: at,
	}
}

// AuditFilter narrows QueryAudit. Zero fields do not filter.
type AuditFilter struct {
	TableName string
	RecordID  string
	ChangedBy string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Matches reports whether e passes the filter (Limit is not applied).
func (f AuditFilter) Matches(e ChangeAudit) bool {
	if f.TableName != "" && e.TableName != f.TableName {
		return false
	}
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.ChangedBy != "" && e.ChangedBy != f.ChangedBy {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
