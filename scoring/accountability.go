package scoring

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// ACCOUNTABILITY - Delivery volume against quota
// =============================================================================

// Accountability is the accountability component with its inputs.
type Accountability struct {
	ExpectedProjects  int              `json:"expected_projects"`
	ExpectedUnits     int              `json:"expected_units"`
	DistinctEntities  int              `json:"distinct_entities"`
	DeliveredProjects int              `json:"delivered_projects"`
	ActualProjects    int              `json:"actual_projects"`
	DeliveredUnits    int              `json:"delivered_units"`
	ProjectScore      decimal.Decimal  `json:"project_score"`
	UnitScore         *decimal.Decimal `json:"unit_score,omitempty"`
	Score             decimal.Decimal  `json:"score"`
}

// AccountabilityScore computes the accountability component for a user-month.
func (p *Pipeline) AccountabilityScore(ctx context.Context, userID performance.UserID, month performance.Month) (Accountability, error) {
	data, err := p.loadMonth(ctx, p.Store, userID, month)
	if err != nil {
		return Accountability{}, err
	}
	return ComputeAccountability(data.mappings, data.rows), nil
}

// ComputeAccountability is the pure form of AccountabilityScore.
//
// Quotas come from active mappings only. Actual projects is the number of
// distinct entities with a row this month, raised to the sum of reported
// delivered_projects when rows report more than that. When a unit quota
// exists, the lower of the project and unit scores governs.
func ComputeAccountability(mappings []performance.UserEntityMapping, rows []performance.MonthlyRow) Accountability {
	var a Accountability
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		a.ExpectedProjects += m.ExpectedProjects
		a.ExpectedUnits += m.ExpectedUnits
	}

	entities := make(map[performance.EntityID]struct{}, len(rows))
	for _, row := range rows {
		entities[row.EntityID] = struct{}{}
		a.DeliveredProjects += row.KPI.DeliveredProjects
		a.DeliveredUnits += row.KPI.DeliveredUnits
	}
	a.DistinctEntities = len(entities)

	a.ActualProjects = a.DistinctEntities
	if a.DeliveredProjects > a.ActualProjects {
		a.ActualProjects = a.DeliveredProjects
	}

	a.ProjectScore = ratioScore(a.ActualProjects, a.ExpectedProjects)
	a.Score = a.ProjectScore
	if a.ExpectedUnits > 0 {
		unit := ratioScore(a.DeliveredUnits, a.ExpectedUnits)
		a.UnitScore = &unit
		a.Score = decimal.Min(a.ProjectScore, unit)
	}
	return a
}

// ProjectScore is clamp(actual / max(expected, 1) * 10, 0, 10).
func ProjectScore(actual, expected int) decimal.Decimal {
	return ratioScore(actual, expected)
}
