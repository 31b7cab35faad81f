package control

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client key. Buckets idle for longer
// than ttl are dropped on the next sweep.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

func newRateLimiter(perSecond float64, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastSweep) > r.ttl {
		for k, c := range r.clients {
			if now.Sub(c.last) > r.ttl {
				delete(r.clients, k)
			}
		}
		r.lastSweep = now
	}
	c := r.clients[key]
	if c == nil {
		c = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.clients[key] = c
	}
	c.last = now
	return c.limiter.AllowN(now, 1)
}

func (r *rateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
