package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
	"github.com/scoredesk/scoredesk-api/internal/pkg/ratelimit"
	"github.com/scoredesk/scoredesk-api/internal/pkg/response"
)

// Throttle limits PIN attempts per caller within scope. The caller is the
// authenticated user when present, the client IP otherwise. A limiter
// failure lets the request through.
func Throttle(limiter ratelimit.Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)
			if id := GetUserID(r.Context()); id != uuid.Nil {
				key = "user:" + id.String()
			}

			d, err := limiter.Consume(r.Context(), scope, key)
			if err != nil {
				logger.LogWarn(r.Context(), "Attempt limiter unavailable", "scope", scope, "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				logger.LogWarn(r.Context(), "Attempt limit reached", "scope", scope, "caller", key)
				response.TooManyRequests(w, d.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
