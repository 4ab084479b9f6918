// Package relay fans signaling events out to connected users.
package relay

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/registry"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/metrics"
)

// Relay delivers events to users through their live connections. Delivery
// is best-effort: an offline target is an expected, frequent condition, so
// misses are counted and dropped, never surfaced to the sender.
type Relay struct {
	reg     *registry.Registry
	metrics *metrics.Metrics
}

// New creates a Relay. metrics may be nil in tests.
func New(reg *registry.Registry, m *metrics.Metrics) *Relay {
	return &Relay{reg: reg, metrics: m}
}

// ToUser sends an event to a single user. Returns false if the user had
// no live connection or the send failed.
func (r *Relay) ToUser(userID uuid.UUID, event string, payload any) bool {
	conn, ok := r.reg.Get(userID)
	if !ok {
		logger.Debug("Relay target offline, dropping event",
			zap.String("event", event),
			zap.String("user_id", userID.String()))
		if r.metrics != nil {
			r.metrics.RecordSignalDropped(event)
		}
		return false
	}

	if err := conn.SendEvent(event, payload); err != nil {
		logger.Warn("Relay send failed",
			zap.String("event", event),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.RecordSignalDropped(event)
		}
		return false
	}

	if r.metrics != nil {
		r.metrics.RecordSignalRelayed(event)
	}
	return true
}

// ToUsers sends an event to every listed user except the excluded one
// (typically the sender). Returns the number of successful deliveries.
func (r *Relay) ToUsers(userIDs []uuid.UUID, exclude uuid.UUID, event string, payload any) int {
	delivered := 0
	for _, userID := range userIDs {
		if userID == exclude {
			continue
		}
		if r.ToUser(userID, event, payload) {
			delivered++
		}
	}
	return delivered
}
