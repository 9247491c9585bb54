package performance

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// KPI - Delivery figures reported on a row
// =============================================================================

// KPI is the typed form of a row's kpi_json.
type KPI struct {
	ExpectedProjects  int `json:"expected_projects"`
	DeliveredProjects int `json:"delivered_projects"`
	DeliveredUnits    int `json:"delivered_units"`
}

// Validate rejects negative counts.
func (k KPI) Validate() error {
	if k.ExpectedProjects < 0 || k.DeliveredProjects < 0 || k.DeliveredUnits < 0 {
		return Validationf("kpi", "KPI figures cannot be negative")
	}
	return nil
}

// ParseKPI decodes kpi_json. An empty blob is a zero KPI.
func ParseKPI(raw []byte) (KPI, error) {
	var k KPI
	if len(raw) == 0 || string(raw) == "null" {
		return k, nil
	}
	if err := json.Unmarshal(raw, &k); err != nil {
		return KPI{}, Validationf("kpi", "Malformed kpi_json: %v", err)
	}
	return k, k.Validate()
}

// =============================================================================
// LEARNING - Logged learning minutes
// =============================================================================

// LearningEntry is one element of a row's learning_json.
type LearningEntry struct {
	Topic        string `json:"topic"`
	URL          string `json:"url"`
	AppliedWhere string `json:"applied_where"`
	Minutes      int    `json:"minutes"`
}

// Problems lists what is wrong with the entry; empty means well-formed.
func (e LearningEntry) Problems() []string {
	var problems []string
	if strings.TrimSpace(e.Topic) == "" {
		problems = append(problems, "missing topic")
	}
	if strings.TrimSpace(e.URL) == "" {
		problems = append(problems, "missing url")
	}
	if strings.TrimSpace(e.AppliedWhere) == "" {
		problems = append(problems, "missing applied_where")
	}
	if e.Minutes <= 0 {
		problems = append(problems, "minutes must be positive")
	}
	return problems
}

func (e LearningEntry) WellFormed() bool { return len(e.Problems()) == 0 }

// RejectedLearningEntry records an entry excluded from scoring and why.
type RejectedLearningEntry struct {
	RowID    RowID         `json:"row_id,omitempty"`
	Index    int           `json:"index"`
	Entry    LearningEntry `json:"entry"`
	Problems []string      `json:"problems"`
}

func (r RejectedLearningEntry) String() string {
	return fmt.Sprintf("learning[%d]: %s", r.Index, strings.Join(r.Problems, ", "))
}

// SplitLearning separates well-formed entries from rejected ones.
func SplitLearning(rowID RowID, entries []LearningEntry) (valid []LearningEntry, rejected []RejectedLearningEntry) {
	for i, e := range entries {
		if problems := e.Problems(); len(problems) > 0 {
			rejected = append(rejected, RejectedLearningEntry{RowID: rowID, Index: i, Entry: e, Problems: problems})
			continue
		}
		valid = append(valid, e)
	}
	return valid, rejected
}

// ValidateLearning is the strict form used on writes: any malformed entry
// fails the whole payload.
func ValidateLearning(entries []LearningEntry) error {
	_, rejected := SplitLearning("", entries)
	if len(rejected) == 0 {
		return nil
	}
	msgs := make([]string, len(rejected))
	for i, r := range rejected {
		msgs[i] = r.String()
	}
	return Validationf("learning", "Malformed learning entries: %s", strings.Join(msgs, "; "))
}

// ParseLearning decodes learning_json. Entries are returned as stored,
// including malformed ones; callers decide whether to reject or exclude.
func ParseLearning(raw []byte) ([]LearningEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var entries []LearningEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, Validationf("learning", "Malformed learning_json: %v", err)
	}
	return entries, nil
}

// ParseComputedScores decodes a stored computed_scores blob.
func ParseComputedScores(raw []byte) (*ComputedScores, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cs ComputedScores
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("malformed computed_scores: %w", err)
	}
	return &cs, nil
}
