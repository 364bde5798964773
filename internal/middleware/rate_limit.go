package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/fieldnotes/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit returns the per-IP limit for credential endpoints (20 requests per minute).
// It sits in front of the per-identifier throttle and only caps raw request volume.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 20,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests per client IP, resolved the same way the
// audit log resolves it
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", config.Window)
		}),
	)
}
