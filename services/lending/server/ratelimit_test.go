package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	handler := limiter.Middleware(okHandler())

	reqA := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	reqA.Header.Set("X-Real-IP", "10.0.0.1")
	reqB := httptest.NewRequest(http.MethodGet, "/v1/prices", nil)
	reqB.Header.Set("X-Forwarded-For", "10.0.0.2, 172.16.0.1")

	for _, req := range []*http.Request{reqA, reqB} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected first request from %s to succeed, got %d", clientID(req), res.Code)
		}
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, reqA)
	if res.Code != http.StatusTooManyRequests || res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected second request from client A to be limited, got %d", res.Code)
	}
}

func TestRateLimiterRefillsAndPrunes(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	limiter.clockNow = func() time.Time { return now }

	if !limiter.allow("a") || limiter.allow("a") {
		t.Fatalf("expected burst of one")
	}
	now = now.Add(time.Second)
	if !limiter.allow("a") {
		t.Fatalf("expected token to refill after one second")
	}
	now = now.Add(visitorIdleTTL + time.Minute)
	limiter.allow("b")
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("idle visitor not pruned")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	handler := NewRateLimiter(RateLimit{}).Middleware(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/prices", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestClientIDFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := clientID(req); got != "192.0.2.7" {
		t.Fatalf("unexpected client id %q", got)
	}
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	if got := clientID(req); got != "192.0.2.7" {
		t.Fatalf("malformed forwarded header should be ignored, got %q", got)
	}
}
