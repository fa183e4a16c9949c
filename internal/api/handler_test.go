package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/gate"
	"github.com/zvonac99/order-notifier/internal/kvstore"
	"github.com/zvonac99/order-notifier/internal/observ"
	"github.com/zvonac99/order-notifier/internal/orders"
)

var errStore = errors.New("store error")

// MockService is a fake event service.
type MockService struct {
	dispatched []int64
	reconciled []int64
	buffered   bool
	shouldFail bool
}

func (m *MockService) DispatchNewOrderEvent(_ context.Context, orderID int64) (*event.Event, error) {
	if m.shouldFail {
		return nil, errStore
	}
	m.dispatched = append(m.dispatched, orderID)
	if !m.buffered {
		return nil, nil
	}
	return &event.Event{UID: event.OrderUID(event.TypeMessage, orderID), OrderID: orderID}, nil
}

func (m *MockService) Reconcile(_ context.Context, userID int64) error {
	if m.shouldFail {
		return errStore
	}
	m.reconciled = append(m.reconciled, userID)
	return nil
}

// MockBuffer is a fake buffer admin surface.
type MockBuffer struct {
	resetCalled   bool
	cleanupResult int
	shouldFail    bool
}

func (m *MockBuffer) Reset() error {
	if m.shouldFail {
		return errStore
	}
	m.resetCalled = true
	return nil
}

func (m *MockBuffer) Cleanup() (int, error) {
	if m.shouldFail {
		return 0, errStore
	}
	return m.cleanupResult, nil
}

// MockLatest serves a canned poll answer and records the statuses asked for.
type MockLatest struct {
	order      *orders.Order
	statuses   []string
	cached     bool
	shouldFail bool
}

func (m *MockLatest) Latest(_ context.Context, statuses []string) (*orders.Order, bool, error) {
	m.statuses = statuses
	if m.shouldFail {
		return nil, false, errStore
	}
	if m.order == nil {
		return nil, m.cached, orders.ErrNotFound
	}
	return m.order, m.cached, nil
}

// MockStreamer records that the stream was handed off.
type MockStreamer struct {
	served bool
	caller event.Caller
}

func (m *MockStreamer) Serve(w http.ResponseWriter, _ *http.Request, caller event.Caller) {
	m.served = true
	m.caller = caller
	w.WriteHeader(http.StatusOK)
}

type testEnv struct {
	handler *Handler
	svc     *MockService
	buffer  *MockBuffer
	latest  *MockLatest
	stream  *MockStreamer
	gate    *gate.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	env := &testEnv{
		svc:    &MockService{buffered: true},
		buffer: &MockBuffer{},
		latest: &MockLatest{},
		stream: &MockStreamer{},
		gate:   gate.New(kvstore.NewMemory(), logger),
	}
	debugLog := observ.NewDebugLog(filepath.Join(t.TempDir(), "debug.log"))

	env.handler = NewHandler(
		logger, env.svc, env.gate, env.buffer, env.latest, env.stream,
		debugLog, []string{orders.StatusProcessing}, nil, nil,
	)
	return env
}

func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/stream", e.handler.Stream)
	r.Post("/v1/orders/check", e.handler.CheckOrders)
	r.Post("/v1/events/{uid}/ack", e.handler.AckEvent)
	r.Post("/v1/hooks/order", e.handler.OrderHook)
	r.Post("/v1/bootstrap", e.handler.Bootstrap)
	r.Post("/v1/buffer/reset", e.handler.ResetBuffer)
	r.Post("/v1/buffer/cleanup", e.handler.CleanupBuffer)
	r.Get("/health", e.handler.Health)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, caller *event.Caller) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		req = req.WithContext(WithCaller(req.Context(), *caller))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStream_DelegatesWithCaller(t *testing.T) {
	env := newTestEnv(t)
	caller := event.Caller{UserID: 7, Role: "administrator"}

	w := doRequest(t, env.router(), http.MethodGet, "/v1/stream", nil, &caller)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !env.stream.served {
		t.Fatal("stream handler must delegate to the session")
	}
	if env.stream.caller != caller {
		t.Errorf("caller not forwarded: %+v", env.stream.caller)
	}
}

func TestCheckOrders_NewOrder(t *testing.T) {
	env := newTestEnv(t)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	env.latest.order = &orders.Order{ID: 501, CreatedAt: created}

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check",
		CheckOrdersRequest{LastCheck: "2026-08-30T11:00:00Z"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    CheckOrdersData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.Success || !resp.Data.NewOrder {
		t.Errorf("expected a new order, got %+v", resp)
	}
	if resp.Data.LatestID != 501 {
		t.Errorf("expected latest id 501, got %d", resp.Data.LatestID)
	}
	if resp.Data.LatestTime != "2026-08-30T12:00:00Z" {
		t.Errorf("latest_time must be RFC3339, got %q", resp.Data.LatestTime)
	}
}

func TestCheckOrders_NothingNewer(t *testing.T) {
	env := newTestEnv(t)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	env.latest.order = &orders.Order{ID: 500, CreatedAt: created}

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check",
		CheckOrdersRequest{LastCheck: "2026-08-30T12:30:00Z"}, nil)

	var resp struct {
		Data CheckOrdersData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.NewOrder {
		t.Error("an order older than last_check must not count as new")
	}
	if resp.Data.LatestID != 500 {
		t.Errorf("latest id must still be reported, got %d", resp.Data.LatestID)
	}
}

func TestCheckOrders_NoBaselineReportsLatest(t *testing.T) {
	env := newTestEnv(t)
	env.latest.order = &orders.Order{ID: 500, CreatedAt: time.Now()}

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check", nil, nil)

	var resp struct {
		Data CheckOrdersData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.NewOrder {
		t.Error("without a baseline the latest order counts as new")
	}
}

func TestCheckOrders_BadTimestamp(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check",
		CheckOrdersRequest{LastCheck: "yesterday"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCheckOrders_RequestedStatusesWin(t *testing.T) {
	env := newTestEnv(t)
	env.latest.order = &orders.Order{ID: 500, CreatedAt: time.Now()}

	doRequest(t, env.router(), http.MethodPost, "/v1/orders/check",
		CheckOrdersRequest{Statuses: []string{"completed"}}, nil)

	if len(env.latest.statuses) != 1 || env.latest.statuses[0] != "completed" {
		t.Errorf("requested statuses must reach the store, got %v", env.latest.statuses)
	}
}

func TestCheckOrders_EmptyShop(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("an empty shop is a valid answer, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    CheckOrdersData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.NewOrder || resp.Data.LatestID != 0 {
		t.Errorf("expected empty data, got %+v", resp.Data)
	}
}

func TestCheckOrders_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.latest.shouldFail = true

	w := doRequest(t, env.router(), http.MethodPost, "/v1/orders/check", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
}

func TestAckEvent_MarksAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := event.OrderUID(event.TypeMessage, 500)

	if err := env.gate.MarkPending(ctx, uid); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, env.router(), http.MethodPost, "/v1/events/"+uid+"/ack",
		AckRequest{Acknowledged: true}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !env.gate.Acknowledged(ctx, uid) {
		t.Error("ack endpoint must flip the marker")
	}
}

func TestAckEvent_EmptyBodyDefaultsToAck(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/events/abc/ack", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !env.gate.Acknowledged(context.Background(), "abc") {
		t.Error("bare POST must acknowledge")
	}
}

func TestAckEvent_ExplicitPending(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/events/abc/ack",
		AckRequest{Acknowledged: false}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.gate.Acknowledged(context.Background(), "abc") {
		t.Error("pending marker must not read as acknowledged")
	}
}

func TestOrderHook_Dispatches(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/hooks/order",
		OrderHookRequest{OrderID: 500}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.svc.dispatched) != 1 || env.svc.dispatched[0] != 500 {
		t.Errorf("dispatch not invoked: %v", env.svc.dispatched)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["buffered"] != true {
		t.Errorf("expected buffered=true, got %v", resp)
	}
}

func TestOrderHook_AcceptsStatusChange(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/hooks/order",
		OrderHookRequest{Event: HookOrderStatusChanged, OrderID: 501}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.svc.dispatched) != 1 || env.svc.dispatched[0] != 501 {
		t.Errorf("dispatch not invoked: %v", env.svc.dispatched)
	}
}

func TestOrderHook_RejectsUnknownEvent(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/hooks/order",
		OrderHookRequest{Event: "order.deleted", OrderID: 500}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(env.svc.dispatched) != 0 {
		t.Errorf("unknown event must not dispatch: %v", env.svc.dispatched)
	}
}

func TestOrderHook_RejectsBadOrderID(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []int64{0, -5} {
		w := doRequest(t, env.router(), http.MethodPost, "/v1/hooks/order",
			OrderHookRequest{OrderID: id}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("order_id %d: expected 400, got %d", id, w.Code)
		}
	}
}

func TestOrderHook_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/hooks/order", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	env.router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBootstrap_ReconcilesCaller(t *testing.T) {
	env := newTestEnv(t)
	caller := event.Caller{UserID: 7, Role: "administrator"}

	w := doRequest(t, env.router(), http.MethodPost, "/v1/bootstrap", struct{}{}, &caller)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.svc.reconciled) != 1 || env.svc.reconciled[0] != 7 {
		t.Errorf("reconcile not invoked for caller: %v", env.svc.reconciled)
	}
}

func TestResetBuffer(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodPost, "/v1/buffer/reset", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !env.buffer.resetCalled {
		t.Error("reset endpoint must empty the buffer")
	}
}

func TestCleanupBuffer_ReportsEvictions(t *testing.T) {
	env := newTestEnv(t)
	env.buffer.cleanupResult = 3

	w := doRequest(t, env.router(), http.MethodPost, "/v1/buffer/cleanup", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["removed"] != float64(3) {
		t.Errorf("expected removed=3, got %v", resp["removed"])
	}
}

func TestHealth_NoBackendsConfigured(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.router(), http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
