package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	jsonwriter "github.com/dgellow/handoff/internal/json"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/metrics"
	"golang.org/x/time/rate"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The last one is outermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware adds request/response logging. Query strings are not
// logged: they carry OAuth codes and state.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			log.LogInfoWithFields(prefix, "request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
						"panic": err,
						"path":  r.URL.Path,
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewSecurityHeadersMiddleware sets headers that keep pages out of frames and caches
func NewSecurityHeadersMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// NewMetricsMiddleware records request counts and latency by route pattern
func NewMetricsMiddleware(m *metrics.Metrics) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			// ServeMux fills in Pattern on the request it dispatched
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, wrapped.Status(), time.Since(start))
		})
	}
}

// ipLimiter is one client's bucket
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages token buckets per client IP
type IPRateLimiter struct {
	mu        sync.Mutex
	ips       map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewIPRateLimiter creates a limiter allowing requestsPerMinute with the given burst
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:   make(map[string]*ipLimiter),
		limit: rate.Limit(float64(requestsPerMinute) / 60),
		burst: burst,
		idle:  10 * time.Minute,
		now:   time.Now,
	}
}

// Allow reports whether ip may proceed now, and if not how long to wait
func (l *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	entry, ok := l.ips[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.ips[ip] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, time.Duration(float64(time.Second) / float64(l.limit))
}

// prune drops buckets idle for longer than l.idle, at most once a minute
func (l *IPRateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < time.Minute {
		return
	}
	l.lastPrune = now
	for ip, entry := range l.ips {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.ips, ip)
		}
	}
}

// Len is the number of tracked clients
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// NewRateLimitMiddleware rejects clients that exceed their bucket with a 429
func NewRateLimitMiddleware(limiter *IPRateLimiter, m *metrics.Metrics) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if ok, retryAfter := limiter.Allow(ip); !ok {
				log.LogWarnWithFields("ratelimit", "Rate limit exceeded", map[string]any{
					"ip":   ip,
					"path": r.URL.Path,
				})
				if m != nil {
					m.RateLimited.WithLabelValues(r.URL.Path).Inc()
				}
				jsonwriter.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the connection's peer address. Forwarded headers are not
// trusted since they are client controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
