package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/metrics"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom extracts the authenticated caller from the request context.
// Returns a zero Caller when the identity middleware did not run.
func CallerFrom(ctx context.Context) event.Caller {
	caller, _ := ctx.Value(callerKey).(event.Caller)
	return caller
}

// WithCaller injects a caller into ctx. Tests use it to skip the middleware.
func WithCaller(ctx context.Context, caller event.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// IdentityMiddleware reads the caller's identity from the X-User-ID and
// X-User-Role headers set by the authenticating reverse proxy. Requests
// without an identity are rejected, and roleAllowed gates which roles may
// receive order notifications at all.
func IdentityMiddleware(logger *zap.Logger, roleAllowed func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userIDStr := r.Header.Get("X-User-ID")
			role := r.Header.Get("X-User-Role")

			if userIDStr == "" || role == "" {
				writeProblem(w, http.StatusUnauthorized, "missing_identity",
					"Unauthorized", "X-User-ID and X-User-Role headers are required")
				return
			}

			userID, err := strconv.ParseInt(userIDStr, 10, 64)
			if err != nil || userID <= 0 {
				writeProblem(w, http.StatusBadRequest, "invalid_identity",
					"Invalid user id", "X-User-ID must be a positive integer")
				return
			}

			if !roleAllowed(role) {
				logger.Debug("role not allowed",
					zap.Int64("user_id", userID),
					zap.String("role", role),
				)
				writeProblem(w, http.StatusForbidden, "role_not_allowed",
					"Forbidden", "Your role does not receive order notifications")
				return
			}

			ctx := WithCaller(r.Context(), event.Caller{UserID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware enforces a request rate limit per key. keyFunc
// extracts the limit key from the request; an empty key bypasses the limit.
func RateLimitMiddleware(limiter *RateLimiter, logger *zap.Logger, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection(key)
				retryAfter := time.Until(result.ResetAt).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				writeProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					"Too Many Requests", "Rate limit exceeded. Please retry after the specified time.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKeyFunc keys the rate limit by authenticated user.
func UserKeyFunc(r *http.Request) string {
	caller := CallerFrom(r.Context())
	if caller.UserID == 0 {
		return ""
	}
	return "user:" + strconv.FormatInt(caller.UserID, 10)
}

// IPKeyFunc keys the rate limit by client IP.
func IPKeyFunc(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return "ip:" + ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
