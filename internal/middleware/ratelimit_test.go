package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientHost(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{name: "ipv4 with port", remoteAddr: "198.51.100.10:1234", want: "198.51.100.10"},
		{name: "ipv6 with port", remoteAddr: net.JoinHostPort("2001:db8::2", "443"), want: "2001:db8::2"},
		{name: "without port", remoteAddr: "203.0.113.1", want: "203.0.113.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if got := clientHost(req); got != tc.want {
				t.Fatalf("clientHost() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitPerHostWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := rateLimit(2, time.Minute, clock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := call("198.51.100.10:1"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
	rr := call("198.51.100.10:2")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "61" {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if rr := call("203.0.113.5:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("other host should not be limited, got %d", rr.Code)
	}

	now = now.Add(61 * time.Second)
	if rr := call("198.51.100.10:3"); rr.Code != http.StatusNoContent {
		t.Fatalf("new window should allow, got %d", rr.Code)
	}
}
