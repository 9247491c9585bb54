package scoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// BATCH - Recompute many users
// =============================================================================

// BatchFailure is one user a batch could not recompute.
type BatchFailure struct {
	UserID    performance.UserID `json:"user_id"`
	Error     string             `json:"error"`
	Retryable bool               `json:"retryable"`
}

// BatchResult lists users in input order, split by outcome.
type BatchResult struct {
	Month           performance.Month    `json:"month"`
	SuccessfulUsers []performance.UserID `json:"successful_users"`
	FailedUsers     []BatchFailure       `json:"failed_users"`
}

// BatchCompute recomputes every user on a pool of Config.BatchWorkers.
// A failing user never aborts the batch. Timeouts are retried up to
// Config.BatchRetries times; other errors are recorded on first failure.
func (p *Pipeline) BatchCompute(ctx context.Context, userIDs []performance.UserID, month performance.Month) (*BatchResult, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}

	users := dedupe(userIDs)
	errs := make([]error, len(users))

	sem := make(chan struct{}, p.Config.BatchWorkers)
	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, userID performance.UserID) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = p.recomputeWithRetry(ctx, userID, month)
		}(i, userID)
	}
	wg.Wait()

	result := &BatchResult{
		Month:           month,
		SuccessfulUsers: []performance.UserID{},
		FailedUsers:     []BatchFailure{},
	}
	for i, userID := range users {
		if errs[i] == nil {
			result.SuccessfulUsers = append(result.SuccessfulUsers, userID)
			continue
		}
		result.FailedUsers = append(result.FailedUsers, BatchFailure{
			UserID:    userID,
			Error:     errs[i].Error(),
			Retryable: performance.IsRetryable(errs[i]),
		})
	}

	p.Logger.Info("batch recompute finished",
		zap.String("month", month.String()),
		zap.Int("successful", len(result.SuccessfulUsers)),
		zap.Int("failed", len(result.FailedUsers)))
	return result, nil
}

func (p *Pipeline) recomputeWithRetry(ctx context.Context, userID performance.UserID, month performance.Month) error {
	var err error
	for attempt := 0; attempt <= p.Config.BatchRetries; attempt++ {
		if attempt > 0 {
			p.Logger.Warn("retrying recompute after timeout",
				zap.String("user_id", string(userID)),
				zap.Int("attempt", attempt))
			if p.Config.BatchBackoff > 0 {
				select {
				case <-ctx.Done():
					return performance.WrapStore("recompute", ctx.Err())
				case <-time.After(p.Config.BatchBackoff):
				}
			}
		}
		_, err = p.Recompute(ctx, userID, month)
		if err == nil || !performance.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		p.Logger.Error("recompute failed",
			zap.String("user_id", string(userID)),
			zap.String("month", month.String()),
			zap.Error(err))
	}
	return err
}

func dedupe(ids []performance.UserID) []performance.UserID {
	seen := make(map[performance.UserID]struct{}, len(ids))
	out := make([]performance.UserID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
