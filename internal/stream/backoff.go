package stream

import (
	"math/rand/v2"
	"time"
)

// Backoff produces full-jitter exponential delays: attempt n draws
// uniformly from [0, min(Base*2^n, Max)).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > 30 {
		shift = 30
	}
	b.attempt++

	ceil := b.Base << shift
	if ceil <= 0 || ceil > b.Max {
		ceil = b.Max
	}
	if ceil <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceil)))
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt reports how many delays were handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
