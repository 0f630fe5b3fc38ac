package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 10})
	defer rl.Close()

	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1 when unset", rl.burst)
	}
	if rl.ttl != DefaultRateLimiterConfig().IdleTTL {
		t.Errorf("ttl = %v, want default", rl.ttl)
	}
	if rl.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", rl.Clients())
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 2,
		Burst:             2,
		CleanupInterval:   time.Minute,
	})
	defer rl.Close()

	ip := "192.168.1.100"
	if !rl.Allow(ip) || !rl.Allow(ip) {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow(ip) {
		t.Error("third request should be denied")
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("other clients have their own bucket")
	}
	if rl.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", rl.Clients())
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   time.Hour,
		IdleTTL:           time.Minute,
	})
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")

	if n := rl.evictIdle(time.Now()); n != 0 {
		t.Errorf("evictIdle(now) = %d, want 0", n)
	}
	if n := rl.evictIdle(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("evictIdle(+2m) = %d, want 2", n)
	}
	if rl.Clients() != 0 {
		t.Errorf("Clients() = %d after eviction", rl.Clients())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})
	defer rl.Close()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.RemoteAddr = "203.0.113.5:4321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("Retry-After header missing")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"ipv6 remote addr", "[::1]:8080", nil, "::1"},
		{"forwarded chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "1.1.1.1"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"no port", "unix", nil, "unix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
