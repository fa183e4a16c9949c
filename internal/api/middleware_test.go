package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/kvstore"
)

func allowShopRoles(role string) bool {
	return role == "administrator" || role == "shop_manager"
}

func identityProtected(t *testing.T) (http.Handler, *event.Caller) {
	t.Helper()

	var seen event.Caller
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := IdentityMiddleware(zap.NewNop(), allowShopRoles)
	return mw(inner), &seen
}

func TestIdentityMiddleware_AcceptsAllowedRole(t *testing.T) {
	h, seen := identityProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("X-User-Role", "shop_manager")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen.UserID != 7 || seen.Role != "shop_manager" {
		t.Errorf("caller not injected: %+v", seen)
	}
}

func TestIdentityMiddleware_MissingHeaders(t *testing.T) {
	h, _ := identityProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
}

func TestIdentityMiddleware_RejectsUnlistedRole(t *testing.T) {
	h, _ := identityProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("X-User-Role", "customer")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestIdentityMiddleware_InvalidUserID(t *testing.T) {
	h, _ := identityProtected(t)

	for _, id := range []string{"abc", "0", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
		req.Header.Set("X-User-ID", id)
		req.Header.Set("X-User-Role", "administrator")

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("user id %q: expected 400, got %d", id, w.Code)
		}
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	logger := zap.NewNop()
	limiter := NewRateLimiter(kvstore.NewMemory(), logger, RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimitMiddleware(limiter, logger, IPKeyFunc)(inner)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders/check", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("requests within the limit must pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("request over the limit must be rejected, got %v", codes)
	}
}

func TestRateLimitMiddleware_SeparateKeys(t *testing.T) {
	logger := zap.NewNop()
	limiter := NewRateLimiter(kvstore.NewMemory(), logger, RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
	})
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimitMiddleware(limiter, logger, IPKeyFunc)(inner)

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders/check", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("first request for %s must pass, got %d", addr, w.Code)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if key := UserKeyFunc(req); key != "" {
		t.Errorf("anonymous request must have no key, got %q", key)
	}

	req = req.WithContext(WithCaller(req.Context(), event.Caller{UserID: 7, Role: "administrator"}))
	if key := UserKeyFunc(req); key != "user:7" {
		t.Errorf("expected user:7, got %q", key)
	}
}
