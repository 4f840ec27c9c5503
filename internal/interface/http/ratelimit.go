package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter holds a token bucket per client IP. The bucket refills the
// whole budget over one window; buckets idle for a window are dropped on
// the next sweep.
type ipRateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	nextSweep time.Time
}

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

func newIPRateLimiter(perWindow int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		window:   window,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow spends one token from ip's bucket.
func (l *ipRateLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > l.window {
				delete(l.visitors, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	v := l.visitors[ip]
	if v == nil {
		v = &visitor{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.bucket.AllowN(now, 1)
}
