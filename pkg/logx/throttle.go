package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates repetitive log lines per key.
//
// Each key gets a token bucket refilled once per interval with a burst of one,
// so the first occurrence always logs and later ones log at most once per interval.
type Throttle struct {
	every time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{every: every, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether a line for key should be written now.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	lim := t.limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
