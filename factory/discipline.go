/*
Package factory provides JSON to Go discipline-policy conversion.

PURPOSE:
  Converts JSON policy definitions into attendance.DisciplinePolicy values.
  The formula that turns office and meeting attendance into a discipline
  figure is an HR decision; keeping it in JSON lets it live in config
  rather than code.

JSON SCHEMA:
  {
    "type": "weighted",
    "office_weight": 0.7,
    "meeting_weight": 0.3
  }

  {
    "type": "office_only"
  }

VALIDATION:
  - type must be "weighted" or "office_only" (empty means weighted)
  - weights must be non-negative and sum to 1

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(cfg.Attendance.Policy)
  agg := attendance.NewAggregator(store, policy, logger)

SEE ALSO:
  - attendance/policies.go: Policy implementations
  - config/config.go: attendance.policy setting
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/attendance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a discipline policy.
type PolicyJSON struct {
	Type          string   `json:"type"`
	OfficeWeight  *float64 `json:"office_weight,omitempty"`
	MeetingWeight *float64 `json:"meeting_weight,omitempty"`
}

const (
	PolicyWeighted   = "weighted"
	PolicyOfficeOnly = "office_only"
)

var weightTolerance = decimal.RequireFromString("0.0001")

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to attendance policies.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON document. An empty string yields the default
// weighted policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (attendance.DisciplinePolicy, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return attendance.DefaultPolicy(), nil
	}
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("invalid discipline policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a decoded PolicyJSON.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (attendance.DisciplinePolicy, error) {
	switch pj.Type {
	case "", PolicyWeighted:
		return f.weighted(pj)
	case PolicyOfficeOnly:
		return attendance.OfficeOnlyPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown discipline policy type %q", pj.Type)
	}
}

func (f *PolicyFactory) weighted(pj PolicyJSON) (attendance.DisciplinePolicy, error) {
	def := attendance.DefaultPolicy()
	office, meeting := def.OfficeWeight, def.MeetingWeight
	if pj.OfficeWeight != nil {
		office = decimal.NewFromFloat(*pj.OfficeWeight)
	}
	if pj.MeetingWeight != nil {
		meeting = decimal.NewFromFloat(*pj.MeetingWeight)
	}

	if office.IsNegative() || meeting.IsNegative() {
		return nil, fmt.Errorf("discipline weights cannot be negative")
	}
	if office.Add(meeting).Sub(decimal.NewFromInt(1)).Abs().GreaterThan(weightTolerance) {
		return nil, fmt.Errorf("discipline weights must sum to 1, got %s + %s", office, meeting)
	}
	return &attendance.WeightedPolicy{OfficeWeight: office, MeetingWeight: meeting}, nil
}

// ToJSON renders a policy back to its JSON form.
func (f *PolicyFactory) ToJSON(p attendance.DisciplinePolicy) PolicyJSON {
	switch policy := p.(type) {
	case *attendance.WeightedPolicy:
		o := policy.OfficeWeight.InexactFloat64()
		m := policy.MeetingWeight.InexactFloat64()
		return PolicyJSON{Type: PolicyWeighted, OfficeWeight: &o, MeetingWeight: &m}
	default:
		return PolicyJSON{Type: p.Name()}
	}
}
