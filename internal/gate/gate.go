// Package gate tracks per-event delivery acknowledgements. A marker lives
// only for a few minutes: if the client never confirms rendering before it
// expires, the event stays unprocessed and is delivered again (at-least-once).
package gate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/kvstore"
)

// MarkerTTL bounds how long an in-flight delivery is remembered.
const MarkerTTL = 5 * time.Minute

// Marker states.
const (
	StatePending      = "0"
	StateAcknowledged = "1"
)

// Gate is the server-side half of the ack protocol.
type Gate struct {
	store  kvstore.Store
	logger *zap.Logger
}

// New creates a delivery gate over the given marker store.
func New(store kvstore.Store, logger *zap.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

func markerKey(uid string) string {
	return "ack:" + uid
}

// MarkPending records that the event was handed to a client but not yet
// confirmed rendered.
func (g *Gate) MarkPending(ctx context.Context, uid string) error {
	return g.store.Set(ctx, markerKey(uid), StatePending, MarkerTTL)
}

// Acknowledge records that the client finished rendering the event.
func (g *Gate) Acknowledge(ctx context.Context, uid string) error {
	return g.store.Set(ctx, markerKey(uid), StateAcknowledged, MarkerTTL)
}

// Acknowledged reports whether an acknowledged marker exists for uid.
// Missing or expired markers read as not acknowledged.
func (g *Gate) Acknowledged(ctx context.Context, uid string) bool {
	val, err := g.store.Get(ctx, markerKey(uid))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			g.logger.Warn("ack marker read failed", zap.Error(err), zap.String("uid", uid))
		}
		return false
	}
	return val == StateAcknowledged
}

// Clear removes the marker once the buffer has durably recorded the delivery.
func (g *Gate) Clear(ctx context.Context, uid string) {
	if err := g.store.Delete(ctx, markerKey(uid)); err != nil {
		g.logger.Warn("ack marker delete failed", zap.Error(err), zap.String("uid", uid))
	}
}
