package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
)

// UserHeader carries the caller identity set by the upstream gateway.
// Authentication happens before requests reach this service.
const UserHeader = "X-User-ID"

type contextKey string

const userKey contextKey = "user"

// RequireUser rejects requests without a user identity and stores it in
// the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// UserFromContext returns the identity stored by RequireUser.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// RateLimit throttles each user independently. It must run after
// RequireUser. A nil limiter passes every request through.
func RateLimit(limiter *ratelimiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if !limiter.Allow(user) {
				wait := limiter.RetryAfter(user)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
				WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log := logger.With("request_id", middleware.GetReqID(r.Context()))
		status := ww.Status()
		if status >= http.StatusInternalServerError {
			log.Warn("%s %s -> %d (%v)", r.Method, r.URL.Path, status, time.Since(start))
			return
		}
		log.Debug("%s %s -> %d (%d bytes, %v)", r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
	})
}
