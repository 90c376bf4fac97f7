package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
)

// Middleware rejects requests over the per-client rate or the concurrency
// cap with 429. Clients are keyed by the host part of RemoteAddr.
func Middleware(l *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			if ok, retry := l.Allow(client); !ok {
				logger.Warn("admin request rate limited", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				tooMany(w, "rate limit exceeded")
				return
			}
			if !l.Acquire() {
				logger.Warn("admin request over concurrency limit", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				tooMany(w, "too many concurrent requests")
				return
			}
			defer l.Release()
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooMany(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
