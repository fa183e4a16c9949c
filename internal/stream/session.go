package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/metrics"
)

// Close reasons reported to the client.
const (
	CloseDone    = "done"
	CloseTimeout = "timeout"
)

// quickPings is the size of the initial fast burst confirming connectivity.
const quickPings = 3

// quickPingInterval spaces the burst pings.
const quickPingInterval = time.Second

// Config bounds one stream session.
type Config struct {
	Lifetime         time.Duration
	CheckInterval    time.Duration
	EnablePing       bool
	PingInterval     time.Duration
	FallbackPing     time.Duration
	EnableTestEvents bool
	TestInterval     time.Duration
}

// Session runs the server-side delivery loop for a single connection.
// It emits at most one real event and then closes; the client reconnects
// for the next one.
type Session struct {
	real   *event.RealFactory
	test   *event.TestFactory
	hub    *Hub
	cfg    Config
	logger *zap.Logger
}

// NewSession creates the delivery loop runner shared by all connections.
func NewSession(real *event.RealFactory, test *event.TestFactory, hub *Hub, cfg Config, logger *zap.Logger) *Session {
	return &Session{
		real:   real,
		test:   test,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
	}
}

// Serve streams events to one authorized caller until a real event is
// delivered or the lifetime bound expires. Send failures end the loop
// silently; the client's reconnect is the recovery path.
func (s *Session) Serve(w http.ResponseWriter, r *http.Request, caller event.Caller) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Keep reverse proxies from buffering the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.RecordSessionOpened()

	wake, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	start := time.Now()
	lastPing := start
	lastTest := start
	quickPingsSent := 0

	s.logger.Info("stream session opened",
		zap.Int64("user_id", caller.UserID),
		zap.Duration("lifetime", s.cfg.Lifetime),
	)

	for {
		if time.Since(start) > s.cfg.Lifetime {
			s.close(w, flusher, CloseTimeout)
			s.logger.Info("stream session timed out", zap.Int64("user_id", caller.UserID))
			return
		}

		// Real event: one-shot, then close.
		if ev := s.real.Next(ctx, caller); ev != nil {
			if err := writeFrame(w, flusher, "event", ev); err != nil {
				return
			}
			metrics.RecordEventDelivered()
			s.close(w, flusher, CloseDone)
			s.logger.Info("event delivered, closing session",
				zap.String("uid", ev.UID),
				zap.Int64("user_id", caller.UserID),
			)
			return
		}

		// Test event: diagnostics only, also one-shot.
		if s.cfg.EnableTestEvents && time.Since(lastTest) >= s.cfg.TestInterval {
			if err := writeFrame(w, flusher, "event", s.test.Create()); err != nil {
				return
			}
			s.close(w, flusher, CloseDone)
			s.logger.Info("test event sent, closing session")
			return
		}

		// Ping logic: a fast initial burst so the client can confirm
		// connectivity, then steady-state keepalives.
		switch {
		case quickPingsSent < quickPings:
			if time.Since(lastPing) >= quickPingInterval {
				if err := writeFrame(w, flusher, "event", event.NewPing()); err != nil {
					return
				}
				lastPing = time.Now()
				quickPingsSent++
				metrics.RecordPingSent()
			}
		case s.cfg.EnablePing && time.Since(lastPing) >= s.cfg.PingInterval:
			if err := writeFrame(w, flusher, "event", event.NewPing()); err != nil {
				return
			}
			lastPing = time.Now()
			metrics.RecordPingSent()
		case !s.cfg.EnablePing && time.Since(lastPing) >= s.cfg.FallbackPing:
			if err := writeFrame(w, flusher, "event", event.NewHeartbeat()); err != nil {
				return
			}
			lastPing = time.Now()
			metrics.RecordPingSent()
		}

		select {
		case <-ctx.Done():
			metrics.RecordSessionClosed("disconnect")
			return
		case <-wake:
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

func (s *Session) close(w http.ResponseWriter, flusher http.Flusher, reason string) {
	_ = writeFrame(w, flusher, "close", map[string]string{"reason": reason})
	metrics.RecordSessionClosed(reason)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
