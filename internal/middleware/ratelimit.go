package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// RateLimit allows limit requests per client host in each fixed window.
// Mount it after chi's RealIP so proxies are accounted for.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientHost(r)
			t := now()
			mu.Lock()
			win, ok := windows[key]
			if !ok || t.After(win.until) {
				win = &window{until: t.Add(per)}
				windows[key] = win
				pruneWindows(windows, t)
			}
			if win.count >= limit {
				retry := int(win.until.Sub(t).Seconds()) + 1
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			win.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func pruneWindows(windows map[string]*window, now time.Time) {
	if len(windows) < 1024 {
		return
	}
	for k, w := range windows {
		if now.After(w.until) {
			delete(windows, k)
		}
	}
}

func clientHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
