package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/broadcast"
	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/poller"
)

// Consecutive stream failures before the watcher falls back to polling.
const streamFailureLimit = 3

// How long the watcher stays in polling mode before retrying the stream.
const pollFallbackWindow = 5 * time.Minute

// Delay between stream reconnects after a clean close.
const reconnectDelay = 2 * time.Second

// Display renders one notification to the user.
type Display func(ev *event.Event)

// Watcher keeps a user session notified: it bootstraps missed orders,
// prefers the SSE stream, and degrades to adaptive polling when the
// stream cannot be held open. Shown events are acknowledged and announced
// on the local broadcast bus so sibling consumers do not re-show them.
type Watcher struct {
	client   *Client
	bus      *broadcast.Bus
	schedule *poller.Schedule
	display  Display
	logger   *zap.Logger

	mu    sync.Mutex
	shown map[string]struct{}
}

// NewWatcher wires the watcher to its API client and local bus.
func NewWatcher(c *Client, bus *broadcast.Bus, schedule *poller.Schedule, display Display, logger *zap.Logger) *Watcher {
	return &Watcher{
		client:   c,
		bus:      bus,
		schedule: schedule,
		display:  display,
		logger:   logger,
		shown:    make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ch := w.bus.Join()
	defer ch.Close()

	go w.consumeBus(ctx, ch)

	if err := w.client.Bootstrap(ctx); err != nil {
		w.logger.Warn("bootstrap failed, continuing without reconciliation", zap.Error(err))
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.streamOnce(ctx, ch)
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			failures++
			w.logger.Warn("stream session failed",
				zap.Error(err),
				zap.Int("consecutive_failures", failures),
			)
			if failures >= streamFailureLimit {
				w.logger.Info("falling back to polling",
					zap.Duration("window", pollFallbackWindow),
				)
				if err := w.pollFor(ctx, ch, pollFallbackWindow); err != nil {
					return err
				}
				failures = 0
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// streamOnce runs one SSE session to completion. A server close with any
// reason is a clean end; transport errors are not.
func (w *Watcher) streamOnce(ctx context.Context, ch *broadcast.Channel) error {
	return w.client.Stream(ctx, func(frame Frame) error {
		switch frame.Name {
		case "event":
			decoded, err := DecodeStreamEvent(frame.Data)
			if err != nil {
				w.logger.Warn("undecodable stream frame", zap.Error(err))
				return nil
			}
			if decoded.System != nil {
				w.logger.Debug("keepalive received", zap.String("type", decoded.System.Type))
				return nil
			}
			w.handleEvent(ctx, ch, decoded.Event)
			return nil
		case "close":
			var reason CloseReason
			_ = json.Unmarshal(frame.Data, &reason)
			w.logger.Debug("stream closed by server", zap.String("reason", reason.Reason))
			return nil
		default:
			return nil
		}
	})
}

func (w *Watcher) markShown(uid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.shown[uid]; ok {
		return false
	}
	w.shown[uid] = struct{}{}
	return true
}

func (w *Watcher) handleEvent(ctx context.Context, ch *broadcast.Channel, ev *event.Event) {
	if !w.markShown(ev.UID) {
		return
	}

	w.display(ev)
	w.schedule.Activity()
	ch.Send(broadcast.KindEventShown, ev.UID)

	if err := w.client.Ack(ctx, ev.UID); err != nil {
		w.logger.Warn("failed to acknowledge event",
			zap.Error(err),
			zap.String("uid", ev.UID),
		)
		return
	}
	ch.Send(broadcast.KindAckRecorded, ev.UID)
}

// pollFor runs the polling fallback for the given window, then returns so
// the caller can retry the stream.
func (w *Watcher) pollFor(ctx context.Context, ch *broadcast.Channel, window time.Duration) error {
	pollCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	check := func(ctx context.Context, lastCheck time.Time) (*poller.CheckResult, error) {
		return w.client.CheckOrders(ctx, lastCheck, nil)
	}
	p := poller.New(w.schedule, check, func(result poller.CheckResult) {
		ev := &event.Event{
			UID:       event.OrderUID(event.TypeMessage, result.LatestID),
			Timestamp: result.LatestTime.Unix(),
			EventType: event.TypeMessage,
			OrderID:   result.LatestID,
			Payload: event.Payload{
				Title:   fmt.Sprintf("Nova narudžba #%d", result.LatestID),
				Message: "Nova narudžba je zaprimljena.",
			},
		}
		w.handleEvent(ctx, ch, ev)
	}, w.logger)

	err := p.Run(pollCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil
	}
	return err
}

// consumeBus applies sibling announcements: an event shown elsewhere is
// never shown again here, and any sibling activity resets the schedule.
func (w *Watcher) consumeBus(ctx context.Context, ch *broadcast.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Recv():
			if !ok {
				return
			}
			switch msg.Kind {
			case broadcast.KindEventShown, broadcast.KindAckRecorded:
				if uid, ok := msg.Data.(string); ok {
					w.markShown(uid)
				}
			case broadcast.KindActivity:
				w.schedule.Activity()
			}
		}
	}
}
