package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/curatorhq/curator/pkg/httputil"
)

// tenantHeader mirrors the header the authorization layer reads so
// budgets split per tenant without depending on that package.
const tenantHeader = "X-Tenant-ID"

// Middleware enforces the limiter on every request passing through it.
// Denied requests get a 429 with X-RateLimit-* and Retry-After headers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := l.Allow(r.Context(), callerKey(r))
		if err != nil {
			if d.Allowed {
				l.logger.WithError(err).Warn("budget check failed, letting the request through")
				next.ServeHTTP(w, r)
				return
			}
			l.logger.WithError(err).Error("budget check failed")
			httputil.WriteServiceUnavailable(w, "rate limiter unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))

		if !d.Allowed {
			if l.metrics != nil {
				l.metrics.HTTPThrottledTotal.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callerKey scopes budgets per tenant and client address. Requests
// without a tenant header share a per-address budget.
func callerKey(r *http.Request) string {
	ip := clientIP(r)
	if tenant := r.Header.Get(tenantHeader); tenant != "" {
		return "tenant:" + tenant + ":" + ip
	}
	return "ip:" + ip
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
