package event

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/gate"
)

// Caller identifies the user behind a stream or poll request.
type Caller struct {
	UserID int64
	Role   string
}

// PendingSource is the buffer surface the real factory consumes.
type PendingSource interface {
	NextUnprocessed() *Event
	MarkProcessed(uid string) (bool, error)
}

// LastSeenRecorder persists the caller's most recent order observation.
type LastSeenRecorder interface {
	SetLastSeen(ctx context.Context, userID, orderID int64) error
}

// RealFactory drains the event buffer for authorized callers. It also
// completes the lazy half of the ack protocol: events whose marker turned
// acknowledged since the last session are marked processed and skipped.
type RealFactory struct {
	source      PendingSource
	gate        *gate.Gate
	lastSeen    LastSeenRecorder
	roleAllowed func(role string) bool
	logger      *zap.Logger
}

// NewRealFactory wires the factory to the buffer, the delivery gate, and
// the per-user last-seen store.
func NewRealFactory(source PendingSource, g *gate.Gate, lastSeen LastSeenRecorder, roleAllowed func(string) bool, logger *zap.Logger) *RealFactory {
	return &RealFactory{
		source:      source,
		gate:        g,
		lastSeen:    lastSeen,
		roleAllowed: roleAllowed,
		logger:      logger,
	}
}

// Next returns the oldest unprocessed event for the caller, or nil when
// there is nothing to deliver. Unauthorized callers always get nil.
func (f *RealFactory) Next(ctx context.Context, caller Caller) *Event {
	if !f.roleAllowed(caller.Role) {
		f.logger.Debug("caller not authorized for events",
			zap.Int64("user_id", caller.UserID),
			zap.String("role", caller.Role),
		)
		return nil
	}

	ev := f.source.NextUnprocessed()
	if ev == nil {
		return nil
	}

	if f.CheckAndMarkProcessed(ctx, ev.UID) {
		f.logger.Debug("event already acknowledged, skipping", zap.String("uid", ev.UID))
		return nil
	}

	if ev.OrderLinked() {
		if err := f.lastSeen.SetLastSeen(ctx, caller.UserID, ev.OrderID); err != nil {
			f.logger.Warn("failed to record last seen order",
				zap.Error(err),
				zap.Int64("user_id", caller.UserID),
				zap.Int64("order_id", ev.OrderID),
			)
		}
	}

	return ev
}

// CheckAndMarkProcessed inspects the ack marker for uid. An acknowledged
// marker flips is_processed in the buffer and clears the marker; the client
// confirmation is the source of truth for "this browser received it".
func (f *RealFactory) CheckAndMarkProcessed(ctx context.Context, uid string) bool {
	if !f.gate.Acknowledged(ctx, uid) {
		return false
	}

	if _, err := f.source.MarkProcessed(uid); err != nil {
		f.logger.Warn("failed to mark event processed", zap.Error(err), zap.String("uid", uid))
		return false
	}
	f.gate.Clear(ctx, uid)
	return true
}

var testNames = []string{"Demo Demic", "Ivana Testic", "Marko Proba", "Ana Streamovic"}

// TestFactory produces synthetic order-shaped events for connectivity
// diagnostics. UIDs never collide with real events.
type TestFactory struct {
	defaults Defaults
}

// NewTestFactory creates a test-event factory with the configured
// presentation defaults.
func NewTestFactory(defaults Defaults) *TestFactory {
	return &TestFactory{defaults: defaults}
}

// Create returns a fresh synthetic event.
func (f *TestFactory) Create() *Event {
	orderID := int64(rand.Intn(90000) + 10000)
	name := testNames[rand.Intn(len(testNames))]

	return &Event{
		UID:       "test_" + uuid.NewString(),
		Timestamp: time.Now().Unix(),
		EventType: TypeMessage,
		OrderID:   orderID,
		Reload:    false,
		Payload: f.defaults.Apply(Payload{
			Title:   fmt.Sprintf("Nova narudžba #%d", orderID),
			Message: fmt.Sprintf("Primljena je narudžba od %s.", name),
		}),
	}
}
