package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
)

// RateLimitConfig bounds requests per client IP. Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *zap.Logger
}

// RateLimit returns an IP-keyed limiter that answers with a 429 problem document.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			platformlogging.FromRequest(r, cfg.Logger).Warn("rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			problem.Write(w, problem.New(problem.TypeRateLimited, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry later"))
		}),
	)
}
