package middleware

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/httpserve/handlers"
	"github.com/bnema/wharf/internal/server"
)

// limiterStore hands out one token bucket per key. Keys are principal
// subjects, or ip:<addr> for anonymous requests.
type limiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterStore(perMinute int) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()
	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, exists = s.limiters[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(s.rps, s.burst)
	s.limiters[key] = limiter
	return limiter
}

// RateLimit enforces the per-principal request budget. Overflow answers
// 429 with Retry-After.
func RateLimit(a *server.App) echo.MiddlewareFunc {
	store := newLimiterStore(a.Config.Security.RateLimit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := handlers.PrincipalFrom(c)
			key := "ip:" + c.RealIP()
			if p.Kind != auth.KindAnonymous {
				key = p.Subject
			}
			if !store.get(key).Allow() {
				c.Response().Header().Set("Retry-After", "1")
				return handlers.SendError(c, http.StatusTooManyRequests,
					handlers.CodeTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
