package middleware

import (
	"net/http"
	"strconv"
	"time"

	"catalog-sync/internal/ratelimit"

	"go.uber.org/zap"
)

// RateLimitMiddleware admits a fixed number of requests per client and window
// using the shared Redis counter. Requests pass when Redis is unavailable.
func RateLimitMiddleware(limiter *ratelimit.Redis, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.RemoteAddr

			d, err := limiter.Allow(r.Context(), clientID)
			if err != nil {
				logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_id", clientID))
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(limiter.Limit())
			w.Header().Set("X-RateLimit-Limit", limit)

			if !d.Allowed {
				logger.Warn("Rate limit exceeded",
					zap.String("client_id", clientID),
					zap.Int64("count", d.Count),
					zap.Int("limit", limiter.Limit()),
				)

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetIn).Unix(), 10))
				w.Header().Set("Retry-After", strconv.Itoa(int(d.ResetIn.Seconds())))
				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
