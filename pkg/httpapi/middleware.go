package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey int

const requestIDKey ctxKey = iota

// requestID returns the echoed X-Request-Id, generating one if the
// caller didn't supply it. Every request accepts an optional
// X-Request-Id and carries an identifier that echoes in responses.
func requestID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok && v != "" {
		return v
	}
	return r.Header.Get("X-Request-Id")
}

// WithRequestID assigns (or propagates) X-Request-Id and echoes it on
// every response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireServiceToken enforces the shared-secret or session-cookie
// auth required on write endpoints.
func RequireServiceToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			WriteError(w, r, http.StatusForbidden, afu9err.CodePolicyConfigError, "service token not configured", nil)
			return
		}
		if r.Header.Get("X-Service-Token") == token {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie("afu9_session"); err == nil && c.Value != "" {
			next.ServeHTTP(w, r)
			return
		}
		WriteError(w, r, http.StatusUnauthorized, afu9err.CodeInvalidInput, "missing X-Service-Token or session cookie", nil)
	})
}

// rateLimiter is a per-IP token bucket with the same visitor map +
// background sweep shape as a console-style global rate limiter,
// generalized to live under this package instead of being duplicated
// per server binary.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a rate limiter and starts its background
// cleanup goroutine.
func NewRateLimiter(rps int, burst int) *rateLimiter {
	rl := &rateLimiter{visitors: map[string]*visitor{}, rps: rate.Limit(rps), burst: burst}
	go rl.sweep()
	return rl
}

func (rl *rateLimiter) sweep() {
	for range time.Tick(time.Minute) {
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	lim := v.limiter
	rl.mu.Unlock()
	return lim.Allow()
}

// Middleware enforces the per-IP limit, denying with RATE_LIMIT_EXCEEDED.
func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}
		if !rl.allow(ip) {
			WriteError(w, r, http.StatusTooManyRequests, afu9err.CodeRateLimitExceeded, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
