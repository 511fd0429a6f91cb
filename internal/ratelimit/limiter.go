// Package ratelimit implements the sliding-window abuse counters that gate
// login and signup attempts per originating address.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// maxTrackedAddrs caps limiter memory. When exceeded, the least-recently
// active addresses are evicted first. Best-effort bound, not a hard
// guarantee under adversarial address churn.
const maxTrackedAddrs = 10000

// Limiter is one sliding-window counter table. Construct one per abuse
// category (login, signup) and pass it by reference to handlers; there is no
// ambient global state. State is process-local: multi-instance deployments
// get independent windows per instance.
type Limiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// New constructs a Limiter allowing limit attempts per window per address.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (l *Limiter) SetClock(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = fn
}

// Check reports whether addr may attempt now. When denied, retryAfter is the
// advisory wait until the oldest in-window attempt falls out of the window,
// floored at one second. Check does not record; callers call Record once per
// actual attempt regardless of outcome.
func (l *Limiter) Check(addr string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	recent := l.attempts[addr]
	if len(recent) < l.limit {
		return true, 0
	}
	oldest := recent[0]
	remaining := oldest.Add(l.window).Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	return false, remaining
}

// Record appends the current timestamp to addr's attempt list.
func (l *Limiter) Record(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[addr] = append(l.attempts[addr], l.now())
}

// Clear drops addr's history. Called after a verified success so legitimate
// users do not accumulate toward the threshold.
func (l *Limiter) Clear(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, addr)
}

// TrackedAddrs returns the number of addresses currently tracked.
func (l *Limiter) TrackedAddrs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// pruneLocked discards out-of-window timestamps, drops empty buckets, and
// evicts the least-recently-active addresses past the cap. Caller holds mu.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for addr, stamps := range l.attempts {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.attempts, addr)
			continue
		}
		l.attempts[addr] = kept
	}

	if len(l.attempts) <= maxTrackedAddrs {
		return
	}
	type bucket struct {
		addr string
		last time.Time
	}
	buckets := make([]bucket, 0, len(l.attempts))
	for addr, stamps := range l.attempts {
		buckets = append(buckets, bucket{addr: addr, last: stamps[len(stamps)-1]})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].last.Before(buckets[j].last) })
	for _, b := range buckets[:len(buckets)-maxTrackedAddrs] {
		delete(l.attempts, b.addr)
	}
}
