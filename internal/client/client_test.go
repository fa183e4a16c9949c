package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL: srv.URL,
		UserID:  7,
		Role:    "administrator",
		Timeout: time.Second,
	}, zap.NewNop())
}

func TestClient_AckSendsIdentityHeaders(t *testing.T) {
	var gotPath, gotUser, gotRole string
	var gotBody map[string]bool

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-ID")
		gotRole = r.Header.Get("X-User-Role")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"success":true}`)
	}))

	if err := c.Ack(context.Background(), "uid1"); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if gotPath != "/v1/events/uid1/ack" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "7" || gotRole != "administrator" {
		t.Errorf("identity headers missing: user=%q role=%q", gotUser, gotRole)
	}
	if !gotBody["acknowledged"] {
		t.Errorf("expected acknowledged=true body, got %v", gotBody)
	}
}

func TestClient_ProblemResponsesBecomeErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"type":"role_not_allowed","title":"Forbidden","status":403}`)
	}))

	err := c.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestClient_CheckOrders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LastCheck string   `json:"last_check"`
			Statuses  []string `json:"statuses"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.LastCheck != "2026-08-30T11:00:00Z" {
			t.Errorf("expected last_check 2026-08-30T11:00:00Z, got %q", req.LastCheck)
		}
		if len(req.Statuses) != 1 || req.Statuses[0] != "processing" {
			t.Errorf("expected statuses [processing], got %v", req.Statuses)
		}
		fmt.Fprint(w, `{"success":true,"data":{"new_order":true,"latest_id":500,"latest_time":"2026-08-30T12:00:00Z"}}`)
	}))

	lastCheck := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	result, err := c.CheckOrders(context.Background(), lastCheck, []string{"processing"})
	if err != nil {
		t.Fatalf("CheckOrders failed: %v", err)
	}
	if !result.NewOrder || result.LatestID != 500 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.LatestTime.IsZero() {
		t.Error("latest time must be parsed")
	}
}

func TestClient_StreamDeliversFrames(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: event\ndata: {\"uid\":\"u1\",\"event_type\":\"message\",\"order_id\":500}\n\n")
		fmt.Fprint(w, "event: close\ndata: {\"reason\":\"done\"}\n\n")
	}))

	var names []string
	err := c.Stream(context.Background(), func(f Frame) error {
		names = append(names, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(names) != 2 || names[0] != "event" || names[1] != "close" {
		t.Errorf("unexpected frames %v", names)
	}
}

func TestDecodeStreamEvent(t *testing.T) {
	decoded, err := DecodeStreamEvent([]byte(`{"event_type":"system","type":"ping","timestamp":1}`))
	if err != nil {
		t.Fatalf("decode ping failed: %v", err)
	}
	if decoded.System == nil || decoded.System.Type != event.SystemPing {
		t.Errorf("expected a ping, got %+v", decoded)
	}

	decoded, err = DecodeStreamEvent([]byte(`{"uid":"u1","event_type":"message","order_id":500,"payload":{"title":"t"}}`))
	if err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if decoded.Event == nil || decoded.Event.OrderID != 500 {
		t.Errorf("expected a notification, got %+v", decoded)
	}
}
