// Package ratelimit guards the verification gateway against code guessing.
//
// [Limiter] is a dual sliding window keyed by client address: a burst guard over the
// last minute and an hourly guard over everything still retained. Timestamps older
// than an hour are pruned lazily whenever a key is read, so there is no sweeper
// goroutine. The keyspace of a single short-lived session is tiny.
//
// [Throttle] is a token bucket that spaces out "request a new code" actions.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultPerMinute = 5
	DefaultPerHour   = 20

	burstWindow  = time.Minute
	hourlyWindow = time.Hour
)

// Limiter counts submission attempts per key.
type Limiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	perMinute int
	perHour   int
	now       func() time.Time
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a [Limiter] that blocks a key after perMinute attempts in the last minute
// or perHour attempts in the last hour. Non-positive counts use the defaults.
func New(perMinute, perHour int, opts ...Option) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	l := &Limiter{
		attempts:  make(map[string][]time.Time),
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordAttempt appends the current time to key's attempt list.
func (l *Limiter) RecordAttempt(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts[key] = append(l.attempts[key], l.now())
}

// IsRateLimited prunes key's stale attempts and reports whether either window is full.
func (l *Limiter) IsRateLimited(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limited(key, l.now())
}

// limited reports whether either window for key is full. Callers hold l.mu.
func (l *Limiter) limited(key string, now time.Time) bool {
	retained := l.prune(key, now)

	recent := 0
	for _, ts := range retained {
		if now.Sub(ts) < burstWindow {
			recent++
		}
	}

	return recent >= l.perMinute || len(retained) >= l.perHour
}

// Allow checks key and records an attempt in one step. A limited key records nothing.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.limited(key, now) {
		return false
	}
	l.attempts[key] = append(l.attempts[key], now)
	return true
}

// Attempts returns the number of attempts currently retained for key.
func (l *Limiter) Attempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.prune(key, l.now()))
}

// prune drops timestamps older than the hourly window. Callers hold l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	list := l.attempts[key]
	i := 0
	for i < len(list) && now.Sub(list[i]) > hourlyWindow {
		i++
	}
	if i == len(list) {
		delete(l.attempts, key)
		return nil
	}
	if i > 0 {
		list = append([]time.Time(nil), list[i:]...)
		l.attempts[key] = list
	}
	return list
}
