package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/tendant/portal-auth/pkg/errors"
)

// Config holds the per-IP limits for the sign-in endpoints.
type Config struct {
	Burst     int
	PerMinute float64
	// BucketTTL is how long an idle IP keeps its bucket.
	BucketTTL time.Duration
}

// DefaultConfig allows 10 sign-in requests per minute per IP.
func DefaultConfig() Config {
	return Config{
		Burst:     10,
		PerMinute: 10,
		BucketTTL: time.Hour,
	}
}

// Middleware limits requests per client IP.
type Middleware struct {
	limiter *RateLimiter
}

func NewMiddleware(config Config, opts ...Option) *Middleware {
	defaults := DefaultConfig()
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	return &Middleware{
		limiter: NewRateLimiter(config.Burst, config.PerMinute/60, config.BucketTTL, opts...),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		ok, wait := m.limiter.Allow(ip)
		if !ok {
			retryAfter := strconv.Itoa(int(math.Ceil(wait.Seconds())))
			slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path, "retry_after", retryAfter)
			w.Header().Set("Retry-After", retryAfter)
			apperrors.WriteError(w, r, apperrors.RateLimitExceeded(retryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the bucket sweep.
func (m *Middleware) Close() {
	m.limiter.Close()
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
