// Package api exposes the HTTP surface: the SSE stream, the polling
// fallback, acknowledgements, the order ingest hook, and debug endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/gate"
	"github.com/zvonac99/order-notifier/internal/metrics"
	"github.com/zvonac99/order-notifier/internal/observ"
	"github.com/zvonac99/order-notifier/internal/orders"
)

// EventService is the dispatch and reconciliation surface the handlers use.
type EventService interface {
	DispatchNewOrderEvent(ctx context.Context, orderID int64) (*event.Event, error)
	Reconcile(ctx context.Context, userID int64) error
}

// BufferAdmin exposes the administrative buffer operations.
type BufferAdmin interface {
	Reset() error
	Cleanup() (int, error)
}

// LatestOrders answers the polling endpoint, typically through a cache.
type LatestOrders interface {
	Latest(ctx context.Context, statuses []string) (*orders.Order, bool, error)
}

// Streamer serves one SSE session per request.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, caller event.Caller)
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger   *zap.Logger
	svc      EventService
	gate     *gate.Gate
	buffer   BufferAdmin
	latest   LatestOrders
	streamer Streamer
	debugLog *observ.DebugLog
	statuses []string

	dbPing    Pinger // nil when the order database is not configured
	redisPing Pinger // nil when Redis is not configured
}

// NewHandler creates an API handler with its collaborators.
func NewHandler(
	logger *zap.Logger,
	svc EventService,
	g *gate.Gate,
	buffer BufferAdmin,
	latest LatestOrders,
	streamer Streamer,
	debugLog *observ.DebugLog,
	statuses []string,
	dbPing, redisPing Pinger,
) *Handler {
	return &Handler{
		logger:    logger,
		svc:       svc,
		gate:      g,
		buffer:    buffer,
		latest:    latest,
		streamer:  streamer,
		debugLog:  debugLog,
		statuses:  statuses,
		dbPing:    dbPing,
		redisPing: redisPing,
	}
}

// Stream handles GET /v1/stream. The session owns the connection until a
// delivery, the lifetime limit, or a client disconnect ends it.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.streamer.Serve(w, r, CallerFrom(r.Context()))
}

// CheckOrdersRequest carries the client's last successful check time and
// the order statuses it cares about. Both are optional; missing statuses
// fall back to the server's tracked set.
type CheckOrdersRequest struct {
	LastCheck string   `json:"last_check"`
	Statuses  []string `json:"statuses"`
}

// CheckOrdersData is the payload of a successful poll response.
type CheckOrdersData struct {
	NewOrder   bool   `json:"new_order"`
	LatestID   int64  `json:"latest_id"`
	LatestTime string `json:"latest_time,omitempty"`
}

// CheckOrders handles POST /v1/orders/check, the polling fallback for
// clients without a working SSE connection. Responses are served from a
// short-lived cache keyed by the requested status set.
func (h *Handler) CheckOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckOrdersRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
	}

	var lastCheck time.Time
	if req.LastCheck != "" {
		var err error
		lastCheck, err = time.Parse(time.RFC3339, req.LastCheck)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid last_check", "last_check must be an RFC 3339 timestamp")
			return
		}
	}

	statuses := req.Statuses
	if len(statuses) == 0 {
		statuses = h.statuses
	}

	order, cached, err := h.latest.Latest(ctx, statuses)
	metrics.RecordPollRequest(cached)
	if err != nil && !errors.Is(err, orders.ErrNotFound) {
		h.logger.Error("poll lookup failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to check orders", "")
		return
	}

	data := CheckOrdersData{}
	if order != nil {
		data.LatestID = order.ID
		data.LatestTime = order.CreatedAt.Format(time.RFC3339)
		data.NewOrder = lastCheck.IsZero() || order.CreatedAt.After(lastCheck)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

// AckRequest sets the delivery marker state for one event.
type AckRequest struct {
	Acknowledged bool `json:"acknowledged"`
}

// AckEvent handles POST /v1/events/{uid}/ack. The client confirms it has
// rendered the notification; the marker suppresses redelivery to other
// sessions until the buffer entry is marked processed.
func (h *Handler) AckEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid := chi.URLParam(r, "uid")
	if uid == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing event uid", "")
		return
	}

	req := AckRequest{Acknowledged: true}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
	}

	var err error
	if req.Acknowledged {
		err = h.gate.Acknowledge(ctx, uid)
	} else {
		err = h.gate.MarkPending(ctx, uid)
	}
	if err != nil {
		h.logger.Error("failed to update ack marker", zap.Error(err), zap.String("uid", uid))
		h.writeError(w, http.StatusInternalServerError, "marker_error", "Failed to update acknowledgement", "")
		return
	}

	h.logger.Debug("ack marker updated",
		zap.String("uid", uid),
		zap.Bool("acknowledged", req.Acknowledged),
	)
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// OrderHookRequest is the ingest payload posted when an order is created
// or enters a tracked status. Both triggers dispatch the same notification.
type OrderHookRequest struct {
	Event   string `json:"event"`
	OrderID int64  `json:"order_id"`
}

// Accepted order hook triggers.
const (
	HookOrderCreated       = "order.created"
	HookOrderStatusChanged = "order.status_changed"
)

// OrderHook handles POST /v1/hooks/order. The shop backend posts here when
// a new order lands; the service buffers at most one pending order event.
func (h *Handler) OrderHook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OrderHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.OrderID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order_id", "order_id must be > 0")
		return
	}
	switch req.Event {
	case "", HookOrderCreated, HookOrderStatusChanged:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown event", "event must be order.created or order.status_changed")
		return
	}

	ev, err := h.svc.DispatchNewOrderEvent(ctx, req.OrderID)
	if err != nil {
		h.logger.Error("failed to dispatch order event",
			zap.Error(err),
			zap.Int64("order_id", req.OrderID),
		)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to dispatch order event", "")
		return
	}

	resp := map[string]any{"success": true, "buffered": ev != nil}
	if ev != nil {
		resp["uid"] = ev.UID
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Bootstrap handles POST /v1/bootstrap. Called once when a user session
// starts; buffers a welcome greeting or a catch-up notification for orders
// created since the user's last visit.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := CallerFrom(ctx)

	if err := h.svc.Reconcile(ctx, caller.UserID); err != nil {
		h.logger.Error("bootstrap reconciliation failed",
			zap.Error(err),
			zap.Int64("user_id", caller.UserID),
		)
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to reconcile user", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResetBuffer handles POST /v1/buffer/reset. Drops every buffered event.
func (h *Handler) ResetBuffer(w http.ResponseWriter, r *http.Request) {
	if err := h.buffer.Reset(); err != nil {
		h.logger.Error("buffer reset failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "buffer_error", "Failed to reset buffer", "")
		return
	}

	h.logger.Info("event buffer reset", zap.Int64("user_id", CallerFrom(r.Context()).UserID))
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CleanupBuffer handles POST /v1/buffer/cleanup. Evicts processed events
// older than the retention window and reports how many were removed.
func (h *Handler) CleanupBuffer(w http.ResponseWriter, r *http.Request) {
	removed, err := h.buffer.Cleanup()
	if err != nil {
		h.logger.Error("buffer cleanup failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "buffer_error", "Failed to clean up buffer", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

// Upper bound on how much of the debug log one request returns.
const debugLogReadLimit = 1 << 20

// DebugLog handles GET /v1/debug/log and returns the tail of the debug log.
func (h *Handler) DebugLog(w http.ResponseWriter, r *http.Request) {
	content, err := h.debugLog.Load(debugLogReadLimit)
	if err != nil {
		h.logger.Error("failed to load debug log", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "log_error", "Failed to load debug log", "")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// ClearDebugLog handles DELETE /v1/debug/log.
func (h *Handler) ClearDebugLog(w http.ResponseWriter, r *http.Request) {
	if err := h.debugLog.Clear(); err != nil {
		h.logger.Error("failed to clear debug log", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "log_error", "Failed to clear debug log", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Health handles GET /health and checks the configured backends.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if h.dbPing != nil {
		if err := h.dbPing.Ping(ctx); err != nil {
			checks["database"] = "down"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redisPing != nil {
		if err := h.redisPing.Ping(ctx); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	h.writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
