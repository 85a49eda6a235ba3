package session

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits at most one call per window. Calls inside the window are
// dropped, not delayed.
type Throttle struct {
	l   *rate.Limiter
	now func() time.Time
}

func NewThrottle(window time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		l:   rate.NewLimiter(rate.Every(window), 1),
		now: now,
	}
}

// TryFire reports whether the caller may fire now.
func (t *Throttle) TryFire() bool {
	return t.l.AllowN(t.now(), 1)
}
