package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is a doubling reconnect delay with a ceiling and a bounded number
// of consecutive failures.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

var DefaultBackoff = Backoff{
	Base:       500 * time.Millisecond,
	Max:        10 * time.Second,
	MaxRetries: 8,
}

// NewPolicy returns a fresh retry schedule: Base, 2*Base, 4*Base, ...
// capped at Max, then backoff.Stop once MaxRetries consecutive attempts
// have failed. A zero MaxRetries never stops.
func (b Backoff) NewPolicy() backoff.BackOff {
	exp := b.schedule()
	if b.MaxRetries <= 0 {
		return exp
	}
	// The first failed attempt is not a retry.
	return backoff.WithMaxRetries(exp, uint64(b.MaxRetries-1))
}

func (b Backoff) schedule() *backoff.ExponentialBackOff {
	base := b.Base
	if b.Max > 0 && base > b.Max {
		base = b.Max
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         b.Max,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return exp
}

// Delay returns the wait before the next attempt after failures
// consecutive failed attempts.
func (b Backoff) Delay(failures int) time.Duration {
	s := b.schedule()
	d := s.NextBackOff()
	for i := 0; i < failures; i++ {
		d = s.NextBackOff()
	}
	return d
}

// Exhausted reports whether failures has reached the retry bound.
func (b Backoff) Exhausted(failures int) bool {
	p := b.NewPolicy()
	for i := 0; i < failures; i++ {
		if p.NextBackOff() == backoff.Stop {
			return true
		}
	}
	return false
}
