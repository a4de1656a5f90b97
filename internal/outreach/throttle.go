package outreach

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Throttle caps how often any single expert can be contacted, and serializes
// outreach to the same expert so concurrent dispatches cannot both pass the
// already-invited check.
type Throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[uuid.UUID]*rate.Limiter
	locks    map[uuid.UUID]*sync.Mutex
}

// NewThrottle allows perHour contacts per expert, with a burst of one.
func NewThrottle(perHour int) *Throttle {
	limit := rate.Inf
	burst := 1
	if perHour > 0 {
		limit = rate.Limit(float64(perHour) / 3600.0)
		burst = perHour
	}
	return &Throttle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[uuid.UUID]*rate.Limiter),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Allow reports whether the expert can be contacted now, consuming one slot
// if so.
func (t *Throttle) Allow(contactID uuid.UUID) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[contactID]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[contactID] = limiter
	}
	t.mu.Unlock()

	return limiter.Allow()
}

// Lock serializes outreach to one expert. The returned function releases
// the lock.
func (t *Throttle) Lock(contactID uuid.UUID) func() {
	t.mu.Lock()
	lock, ok := t.locks[contactID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[contactID] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
