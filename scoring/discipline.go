package scoring

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// DISCIPLINE - From the attendance cache
// =============================================================================

// DisciplineSource says where a discipline figure came from.
type DisciplineSource string

const (
	DisciplineFromCache    DisciplineSource = "cache"
	DisciplineAggregated   DisciplineSource = "aggregated"
	DisciplineFromFallback DisciplineSource = "fallback"
)

// Discipline is the discipline component and its provenance.
type Discipline struct {
	Score    decimal.Decimal  `json:"score"`
	Source   DisciplineSource `json:"source"`
	Fallback bool             `json:"fallback"`
}

// DisciplineComponent reads the attendance cache for a user-month. When the
// cache row is missing it asks the aggregator once and re-reads; when there
// is still nothing it returns Config.DisciplineFallback.
func (p *Pipeline) DisciplineComponent(ctx context.Context, userID performance.UserID, month performance.Month) (Discipline, error) {
	return p.discipline(ctx, p.Store, userID, month)
}

func (p *Pipeline) discipline(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month) (Discipline, error) {
	cache, err := p.readCache(ctx, store, userID, month)
	if err != nil {
		return Discipline{}, err
	}
	if cache != nil {
		return Discipline{Score: clamp(cache.DisciplineComponent, zero, ten), Source: DisciplineFromCache}, nil
	}

	if p.Attendance != nil {
		err := p.call(ctx, "aggregate attendance", func(ctx context.Context) error {
			_, err := p.Attendance.Compute(ctx, userID, month)
			return err
		})
		if err != nil {
			return Discipline{}, err
		}
		cache, err = p.readCache(ctx, store, userID, month)
		if err != nil {
			return Discipline{}, err
		}
		if cache != nil {
			return Discipline{Score: clamp(cache.DisciplineComponent, zero, ten), Source: DisciplineAggregated}, nil
		}
	}

	p.Logger.Debug("no attendance data, using discipline fallback",
		zap.String("user_id", string(userID)),
		zap.String("month", month.String()),
		zap.String("fallback", p.Config.DisciplineFallback.String()))
	return Discipline{Score: p.Config.DisciplineFallback, Source: DisciplineFromFallback, Fallback: true}, nil
}

func (p *Pipeline) readCache(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error) {
	var cache *performance.AttendanceMonthlyCache
	err := p.call(ctx, "get attendance cache", func(ctx context.Context) (err error) {
		cache, err = store.GetAttendanceCache(ctx, userID, month)
		return err
	})
	return cache, err
}
