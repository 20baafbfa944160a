package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/pkg/httpext"
	"github.com/deepgram/colloquy/pkg/logger"
	"github.com/deepgram/colloquy/pkg/ratelimit"
)

// RateLimit applies the sliding window configured under limitKey. Requests are
// counted per authenticated user, falling back to the client address.
func RateLimit(limitKey string) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)
	return RateLimitWith(limitKey, cfg)
}

func RateLimitWith(limitKey string, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	limiter := ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := UserID(r)
			if key == "" {
				// Use X-Forwarded-For if behind proxy, otherwise remote address
				key = r.Header.Get("X-Forwarded-For")
				if key == "" {
					key = r.RemoteAddr
				}
			}

			if !limiter.Allow(key) {
				wait := limiter.RetryAfter(key)
				logger.Warn(logger.MIDDLEWARE, "Rate limit exceeded for %s on %s", key, limitKey)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
