package api

import (
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter keeps one token bucket per tenant. A zero rate disables it.
type TenantLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	if burst <= 0 {
		burst = 20
	}
	return &TenantLimiter{limiters: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (l *TenantLimiter) Allow(tenant string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	return l.get(tenant).Allow()
}

func (l *TenantLimiter) get(tenant string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[tenant]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[tenant]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.rps, l.burst)
	l.limiters[tenant] = lim
	return lim
}

// limited rejects requests over the tenant's rate with 429.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.getPrincipal(r)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		if !s.Limiter.Allow(p.Tenant) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded for tenant "+p.Tenant, r.URL.Path)
			return
		}
		next(w, r)
	}
}
