package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle allows one action per interval, with a burst of one.
//
// A zero interval disables throttling.
type Throttle struct {
	lim *rate.Limiter
}

// NewThrottle creates a [Throttle] that refills one token every interval.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether the action may happen now and consumes a token if so.
func (t *Throttle) Allow() bool {
	return t.lim.Allow()
}

// AllowAt is [Throttle.Allow] evaluated at a caller-supplied instant.
func (t *Throttle) AllowAt(now time.Time) bool {
	return t.lim.AllowN(now, 1)
}
