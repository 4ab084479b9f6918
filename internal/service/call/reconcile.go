package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
)

// SweepStaleRinging marks sessions still ringing after the timeout as
// missed. Clients drive their own ring timers; this is the server-side
// backstop for clients whose timer never fires.
func (s *Service) SweepStaleRinging(ctx context.Context, timeout time.Duration) int {
	stale := s.sessions.StaleRinging(timeout)
	for _, sess := range stale {
		logger.Info("Ring timeout expired, marking call missed",
			zap.String("call_id", sess.ID.String()),
			zap.Duration("timeout", timeout))

		if _, err := s.finalizeUnanswered(ctx, sess.ID, domain.CallStatusMissed); err != nil {
			logger.Warn("Failed to finalize timed-out call",
				zap.String("call_id", sess.ID.String()),
				zap.Error(err))
		}
	}
	return len(stale)
}

// ReconcileStaleRecords closes durable records stuck in a non-terminal
// status with no live session backing them. Sessions do not survive a
// restart, so any record orphaned by a crash is swept here: never-active
// calls become missed, active ones become ended.
func (s *Service) ReconcileStaleRecords(ctx context.Context, grace time.Duration) int {
	records, err := s.repo.GetNonTerminal(ctx)
	if err != nil {
		logger.Error("Failed to load non-terminal call records", zap.Error(err))
		return 0
	}

	cutoff := time.Now().Add(-grace)
	reconciled := 0

	for _, call := range records {
		if call.StartedAt.After(cutoff) {
			continue
		}
		if _, err := s.sessions.Get(call.ID); err == nil {
			// Live session still owns this record
			continue
		}

		status := domain.CallStatusEnded
		if call.Status == domain.CallStatusInitiated || call.Status == domain.CallStatusRinging {
			status = domain.CallStatusMissed
		}

		if _, err := s.repo.Finalize(ctx, call.ID, status, nil); err != nil {
			logger.Warn("Failed to reconcile stale call record",
				zap.String("call_id", call.ID.String()),
				zap.Error(err))
			continue
		}
		reconciled++

		logger.Info("Reconciled orphaned call record",
			zap.String("call_id", call.ID.String()),
			zap.String("was", string(call.Status)),
			zap.String("now", string(status)))
	}

	return reconciled
}
