package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stormmon/storm/server/internal/httpx"
)

// cors sets the permissive cross-origin headers spec §6 requires and
// short-circuits OPTIONS preflight requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, x-agent-id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey is the shared-secret auth middleware for the routes spec §6
// marks as requiring x-api-key: register, heartbeat, uptime reset, uptime
// check.
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("x-api-key") != apiKey {
				httpx.ErrStatus(w, http.StatusUnauthorized, "invalid or missing x-api-key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// perIPLimiters hands out a token-bucket limiter per client IP, used to
// rate-limit POST /api/register against registration storms.
type perIPLimiters struct {
	rps   rate.Limit
	burst int

	mu       chan struct{} // 1-buffered channel used as a cheap mutex
	limiters map[string]*rate.Limiter
}

func newPerIPLimiters(rps rate.Limit, burst int) *perIPLimiters {
	l := &perIPLimiters{rps: rps, burst: burst, mu: make(chan struct{}, 1), limiters: make(map[string]*rate.Limiter)}
	l.mu <- struct{}{}
	return l
}

func (l *perIPLimiters) forIP(ip string) *rate.Limiter {
	<-l.mu
	defer func() { l.mu <- struct{}{} }()

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// rateLimit returns middleware allowing burst requests per client IP,
// refilling at rps thereafter.
func rateLimit(rps rate.Limit, burst int) func(http.Handler) http.Handler {
	limiters := newPerIPLimiters(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.forIP(clientIP(r)).Allow() {
				httpx.ErrStatus(w, http.StatusTooManyRequests, "too many registration attempts, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// requestLogger logs every request with method, path, status and latency,
// the same fields the teacher's RequestLogger middleware records.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("agent_id", r.Header.Get("x-agent-id")),
			)
		})
	}
}
