package connection

import (
	"math/rand/v2"
	"time"
)

// backoff computes reconnect delays: exponential growth from base, capped at
// max, with equal jitter.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// delay returns the wait before reconnect attempt n (0-based). The result
// lies in [ceil/2, ceil] where ceil = min(max, base*2^n).
func (b backoff) delay(attempt int) time.Duration {
	base := b.base
	if base <= 0 {
		base = time.Second
	}
	limit := b.max
	if limit < base {
		limit = base
	}

	ceil := base
	for i := 0; i < attempt && ceil < limit; i++ {
		ceil *= 2
	}
	if ceil > limit {
		ceil = limit
	}

	half := ceil / 2
	if half <= 0 {
		return ceil
	}
	return half + time.Duration(rand.Int64N(int64(ceil-half)+1))
}
