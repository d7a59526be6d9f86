package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// RetryAfterSeconds is sent with every 429.
const RetryAfterSeconds = 1

// Middleware rejects requests whose client key has run out of tokens. key
// extracts the client key; an empty key is never limited. reject writes the
// 429 body; nil writes plain text.
func Middleware(l *Limiter, key func(*http.Request) string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining := l.Allow(k)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
				if reject != nil {
					reject(w, r)
					return
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("Too Many Requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP keys requests by the connecting address without its port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
