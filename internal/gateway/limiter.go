package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// remoteLimiter keeps one token bucket per remote host. Buckets are created
// on first contact and live for the server's lifetime; the gateway binds to
// loopback, so the key space stays small.
type remoteLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newRemoteLimiter(rps float64, burst int) *remoteLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &remoteLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(rps),
		b:        burst,
	}
}

// allow reports whether the host may issue one more request now.
func (l *remoteLimiter) allow(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[host] = limiter
	}
	return limiter.Allow()
}
