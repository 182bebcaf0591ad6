package webhook

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// tenantLimiter rate-limits webhook processing per tenant so one tenant's
// delivery storm cannot starve the others.
type tenantLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newTenantLimiter(perSecond float64, burst int) *tenantLimiter {
	if perSecond <= 0 {
		perSecond = 20
	}
	if burst < 1 {
		burst = 40
	}
	return &tenantLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (t *tenantLimiter) allow(tenantID uuid.UUID) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[tenantID] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}
