package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"studiobook/internal/domain"
)

type ctxKey int

const profileKey ctxKey = iota

// ProfileFrom returns the authenticated profile attached by the auth
// middleware, or nil on an unauthenticated request.
func ProfileFrom(ctx context.Context) *domain.Profile {
	p, _ := ctx.Value(profileKey).(*domain.Profile)
	return p
}

// TokenVerifier validates a bearer access token and returns the user
// id it belongs to. Both auth service implementations provide one.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (string, error)
}

// ProfileResolver turns an authenticated user id into a Profile,
// synthesizing a missing row along the way.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*domain.Profile, error)
}

// requireAuth authenticates the bearer token and resolves the profile
// into the request context. Unresolvable identities are rejected, not
// degraded: an API caller holding a token expects a definite answer.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := s.verifier.VerifyToken(r.Context(), raw)
		if err != nil {
			s.log.Debug("token rejected", logAttr(err))
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		p, err := s.resolver.Resolve(r.Context(), userID)
		if err != nil {
			s.log.Warn("profile resolution failed", slog.String("user_id", userID), logAttr(err))
			writeError(w, http.StatusUnauthorized, "identity could not be resolved")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileKey, p)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ProfileFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-client-IP token bucket for the credential
// endpoints. Stale entries are dropped as new clients arrive.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	r       rate.Limit
	burst   int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		r:       rate.Limit(rps),
		burst:   burst,
	}
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, ok := rl.clients[ip]; ok {
		c.seen = time.Now()
		return c.lim
	}
	for ip, c := range rl.clients {
		if time.Since(c.seen) > 3*time.Minute {
			delete(rl.clients, ip)
		}
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.clients[ip] = &limiterEntry{lim: l, seen: time.Now()}
	return l
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.get(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
