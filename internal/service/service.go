// Package service builds order notification events and reconciles missed
// orders when a user session starts.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/gate"
	"github.com/zvonac99/order-notifier/internal/hooks"
	"github.com/zvonac99/order-notifier/internal/metrics"
	"github.com/zvonac99/order-notifier/internal/orders"
)

// Hook names fired by the service.
const (
	HookEventDispatched = "event.dispatched"
	HookUserReconciled  = "user.reconciled"
)

// DispatchedArgs is passed to HookEventDispatched handlers.
type DispatchedArgs struct {
	Event *event.Event
}

// EventBuffer is the append surface of the pending event store.
type EventBuffer interface {
	Append(ev event.Event) (bool, error)
}

// OrderStore is the order and user-meta surface the service depends on.
type OrderStore interface {
	LatestID(ctx context.Context, statuses []string) (int64, error)
	NewOrdersSince(ctx context.Context, statuses []string, lastID int64) ([]int64, error)
	MinimalOrderData(ctx context.Context, orderID int64) (*orders.Order, error)
	GetLastSeen(ctx context.Context, userID int64) (int64, error)
	SetLastSeen(ctx context.Context, userID, orderID int64) error
}

// Waker nudges open stream sessions after a buffer change.
type Waker interface {
	Notify()
}

// OrderEventService turns order activity into buffered notification events.
type OrderEventService struct {
	buffer      EventBuffer
	store       OrderStore
	gate        *gate.Gate
	waker       Waker
	registry    *hooks.Registry
	defaults    event.Defaults
	statuses    []string
	reloadTable bool
	logger      *zap.Logger
}

// NewOrderEventService wires the service to its storage and delivery
// collaborators. statuses selects which order states count as new orders.
func NewOrderEventService(
	buffer EventBuffer,
	store OrderStore,
	g *gate.Gate,
	waker Waker,
	registry *hooks.Registry,
	defaults event.Defaults,
	statuses []string,
	reloadTable bool,
	logger *zap.Logger,
) *OrderEventService {
	return &OrderEventService{
		buffer:      buffer,
		store:       store,
		gate:        g,
		waker:       waker,
		registry:    registry,
		defaults:    defaults,
		statuses:    statuses,
		reloadTable: reloadTable,
		logger:      logger,
	}
}

// DispatchNewOrderEvent buffers a notification for a single new order.
// The buffer keeps one pending order event at a time, so back-to-back
// orders collapse to the newest. Returns the buffered event, or nil when
// the append was suppressed as a duplicate.
func (s *OrderEventService) DispatchNewOrderEvent(ctx context.Context, orderID int64) (*event.Event, error) {
	order, err := s.store.MinimalOrderData(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	ev := event.Event{
		UID:       event.OrderUID(event.TypeMessage, orderID),
		EventType: event.TypeMessage,
		OrderID:   orderID,
		Reload:    s.reloadTable,
		Payload: s.defaults.Apply(event.Payload{
			Title:   fmt.Sprintf("Nova narudžba #%d", orderID),
			Message: fmt.Sprintf("Primljena je narudžba od %s.", order.BillingName),
		}),
	}
	return s.dispatch(ctx, ev)
}

// DispatchWelcomeEvent buffers the first-visit greeting. orderID is the
// shop's latest order at the time, recorded for the log only: the greeting
// itself is deliberately not order-linked, so appending it can never evict
// a pending order notification, and its random uid never collides with the
// order's own event.
func (s *OrderEventService) DispatchWelcomeEvent(ctx context.Context, orderID int64) (*event.Event, error) {
	s.logger.Debug("dispatching welcome greeting", zap.Int64("latest_order_id", orderID))
	ev := event.Event{
		UID:       "welcome_" + uuid.NewString(),
		EventType: event.TypeMessage,
		Payload: s.defaults.Apply(event.Payload{
			Title:   "Dobrodošli!",
			Message: "Obavijesti o novim narudžbama su aktivne.",
		}),
	}
	return s.dispatch(ctx, ev)
}

// multipleKind keys the batch summary's uid derivation. It must differ
// from the single-order kind: the newest order may already have its own
// pending event with OrderUID(TypeMessage, id), and a colliding uid would
// suppress the summary as a duplicate.
const multipleKind = "multiple"

// DispatchMultipleOrdersEvent buffers a summary for several missed orders.
// The event is linked to the newest order so acknowledgement advances the
// caller's last-seen marker past the whole batch.
func (s *OrderEventService) DispatchMultipleOrdersEvent(ctx context.Context, count int, latestID int64) (*event.Event, error) {
	ev := event.Event{
		UID:       event.OrderUID(multipleKind, latestID),
		EventType: event.TypeMessage,
		OrderID:   latestID,
		Reload:    s.reloadTable,
		Payload: s.defaults.Apply(event.Payload{
			Title:   "Nove narudžbe",
			Message: fmt.Sprintf("Imate %d novih narudžbi.", count),
		}),
	}
	return s.dispatch(ctx, ev)
}

func (s *OrderEventService) dispatch(ctx context.Context, ev event.Event) (*event.Event, error) {
	ev.Timestamp = time.Now().Unix()

	appended, err := s.buffer.Append(ev)
	if err != nil {
		return nil, fmt.Errorf("append event %s: %w", ev.UID, err)
	}
	if !appended {
		metrics.RecordEventSuppressed()
		s.logger.Debug("event suppressed as duplicate", zap.String("uid", ev.UID))
		return nil, nil
	}

	if err := s.gate.MarkPending(ctx, ev.UID); err != nil {
		s.logger.Warn("failed to mark delivery pending", zap.Error(err), zap.String("uid", ev.UID))
	}

	metrics.RecordEventAppended()
	s.logger.Info("event buffered",
		zap.String("uid", ev.UID),
		zap.String("event_type", ev.EventType),
		zap.Int64("order_id", ev.OrderID),
	)

	s.registry.Fire(ctx, HookEventDispatched, DispatchedArgs{Event: &ev})
	s.waker.Notify()
	return &ev, nil
}

// Reconcile catches a returning user up on orders created since their last
// visit. A first visit gets the welcome greeting, exactly one missed order
// produces its full notification, several produce one summary, and an
// up-to-date user (or an empty shop) dispatches nothing at all.
func (s *OrderEventService) Reconcile(ctx context.Context, userID int64) error {
	latestID, err := s.store.LatestID(ctx, s.statuses)
	if err != nil {
		return fmt.Errorf("latest order id: %w", err)
	}

	lastSeen, err := s.store.GetLastSeen(ctx, userID)
	if err != nil {
		return fmt.Errorf("last seen for user %d: %w", userID, err)
	}

	switch {
	case latestID == 0:
		// Shop has no orders yet, nothing to reconcile.
	case lastSeen == 0:
		if _, err := s.DispatchWelcomeEvent(ctx, latestID); err != nil {
			return err
		}
	case lastSeen >= latestID:
		s.logger.Debug("no new orders since last visit",
			zap.Int64("user_id", userID),
			zap.Int64("last_seen", lastSeen),
		)
	default:
		ids, err := s.store.NewOrdersSince(ctx, s.statuses, lastSeen)
		if err != nil {
			return fmt.Errorf("orders since %d: %w", lastSeen, err)
		}
		switch len(ids) {
		case 0:
			// The gap holds no tracked-status orders, nothing to announce.
		case 1:
			if _, err := s.DispatchNewOrderEvent(ctx, ids[0]); err != nil {
				return err
			}
		default:
			if _, err := s.DispatchMultipleOrdersEvent(ctx, len(ids), latestID); err != nil {
				return err
			}
		}
	}

	if latestID > 0 {
		if err := s.store.SetLastSeen(ctx, userID, latestID); err != nil {
			s.logger.Warn("failed to persist last seen order",
				zap.Error(err),
				zap.Int64("user_id", userID),
				zap.Int64("order_id", latestID),
			)
		}
	}

	s.registry.Fire(ctx, HookUserReconciled, userID)
	s.logger.Info("user reconciled",
		zap.Int64("user_id", userID),
		zap.Int64("latest_order_id", latestID),
		zap.Int64("last_seen", lastSeen),
	)
	return nil
}
