package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/curatorhq/curator/pkg/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	store, _, _ := setupTestStore(t)
	l := NewLimiter(store, Config{RequestsPerWindow: 2, Window: time.Minute, FailOpen: true}, quietLogger(), nil)
	handler := l.Middleware(okHandler())

	for i := 1; i <= 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("Request %d: expected X-RateLimit-Limit 2, got %q", i, got)
		}
		if rr.Header().Get("X-RateLimit-Remaining") == "" {
			t.Errorf("Request %d: missing X-RateLimit-Remaining", i)
		}
		if rr.Header().Get("X-RateLimit-Reset") == "" {
			t.Errorf("Request %d: missing X-RateLimit-Reset", i)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Request 3: expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Request 3: expected Retry-After 60, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("Request 3: expected X-RateLimit-Remaining 0, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), "rate limit exceeded") {
		t.Errorf("Request 3: expected body to mention the limit, got %q", rr.Body.String())
	}
}

func TestMiddlewareTenantsDrawSeparateBudgets(t *testing.T) {
	store, _, _ := setupTestStore(t)
	l := NewLimiter(store, Config{RequestsPerWindow: 1, Window: time.Minute, FailOpen: true}, quietLogger(), nil)
	handler := l.Middleware(okHandler())

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		if tenant != "" {
			req.Header.Set("X-Tenant-ID", tenant)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("acme"); code != http.StatusOK {
		t.Fatalf("acme request 1: expected 200, got %d", code)
	}
	if code := send("acme"); code != http.StatusTooManyRequests {
		t.Fatalf("acme request 2: expected 429, got %d", code)
	}
	if code := send("globex"); code != http.StatusOK {
		t.Errorf("globex should not share acme's budget, got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Errorf("tenantless request should use its own budget, got %d", code)
	}
}

func TestMiddlewareRecordsThrottles(t *testing.T) {
	store, _, _ := setupTestStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	l := NewLimiter(store, Config{RequestsPerWindow: 1, Window: time.Minute, FailOpen: true}, quietLogger(), metrics)
	handler := l.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(metrics.HTTPThrottledTotal); got != 1 {
		t.Errorf("expected 1 throttled request, got %v", got)
	}
}

func TestMiddlewareFailOpenServesRequest(t *testing.T) {
	store, _, mgr := setupTestStore(t)
	l := NewLimiter(store, Config{RequestsPerWindow: 1, Window: time.Minute, FailOpen: true}, quietLogger(), nil)
	handler := l.Middleware(okHandler())

	mgr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("fail-open middleware should serve when the store is down, got %d", rr.Code)
	}
}

func TestMiddlewareFailClosedReturns503(t *testing.T) {
	store, _, mgr := setupTestStore(t)
	l := NewLimiter(store, Config{RequestsPerWindow: 1, Window: time.Minute, FailOpen: false}, quietLogger(), nil)
	handler := l.Middleware(okHandler())

	mgr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("fail-closed middleware should return 503 when the store is down, got %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "10.0.0.1:12345",
			want:       "10.0.0.1",
		},
		{
			name:       "x-forwarded-for single hop",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			want:       "203.0.113.1",
		},
		{
			name:       "x-forwarded-for takes first hop",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.9"},
			want:       "203.0.113.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded-for beats real-ip",
			remoteAddr: "10.0.0.1:12345",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.1",
				"X-Real-IP":       "203.0.113.7",
			},
			want: "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
