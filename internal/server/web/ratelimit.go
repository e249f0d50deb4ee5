package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerKeyLimiter throttles requests per key (here: the submitted email), so a
// single address cannot be brute-forced through login or flooded with reset
// emails. Idle entries are dropped by a background cleanup loop.
type PerKeyLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry

	stopCh chan struct{}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

const limiterIdleTTL = 15 * time.Minute

// NewPerKeyLimiter allows perMinute events per key with a burst of the same
// size, and starts the cleanup loop.
func NewPerKeyLimiter(perMinute int) *PerKeyLimiter {
	l := &PerKeyLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		entries: make(map[string]*limiterEntry),
		stopCh:  make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow reports whether an event for key may proceed now.
func (l *PerKeyLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// Stop terminates the cleanup loop.
func (l *PerKeyLimiter) Stop() {
	close(l.stopCh)
}

func (l *PerKeyLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-limiterIdleTTL)
			for key, e := range l.entries {
				if e.lastAccess.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
