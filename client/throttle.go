package client

import (
	"time"

	"golang.org/x/time/rate"
)

const DefaultThrottle = 50 * time.Millisecond

// Throttle admits at most one event per interval. Rejected events are
// dropped, never queued or reserved.
type Throttle struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Allow reports whether an event may go out now and, if so, records it.
func (t *Throttle) Allow() bool {
	return t.limiter.AllowN(t.now(), 1)
}
