package probe

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// timeoutBackoff implements backoff.BackOff with the exact schedule from
// spec.md §4.1: base 500ms, +100ms per consecutive prior timeout, capped
// at 1000ms. It is deliberately linear rather than the library's usual
// exponential growth — the spec calls this "exponential-style" but
// specifies a linear increment, and DESIGN.md records that choice rather
// than silently swapping in the library's default curve.
type timeoutBackoff struct {
	base                time.Duration
	increment           time.Duration
	cap                 time.Duration
	consecutiveTimeouts int
}

var _ backoff.BackOff = (*timeoutBackoff)(nil)

func newTimeoutBackoff() *timeoutBackoff {
	return &timeoutBackoff{
		base:      500 * time.Millisecond,
		increment: 100 * time.Millisecond,
		cap:       1000 * time.Millisecond,
	}
}

// NextBackOff returns the timeout to use for the next probe request and
// is also how the caller reads the current per-request timeout before
// issuing it — call it once per request, before sending.
func (b *timeoutBackoff) NextBackOff() time.Duration {
	d := b.base + time.Duration(b.consecutiveTimeouts)*b.increment
	if d > b.cap {
		d = b.cap
	}
	return d
}

// Reset zeroes the consecutive-timeout count, called on a successful reply.
func (b *timeoutBackoff) Reset() {
	b.consecutiveTimeouts = 0
}

// recordTimeout bumps the consecutive-timeout count that NextBackOff and
// ConsecutiveTimeouts read.
func (b *timeoutBackoff) recordTimeout() {
	b.consecutiveTimeouts++
}

// ConsecutiveTimeouts reports the current run length, carried on each
// timeout marker LatencySample per spec.md §3.
func (b *timeoutBackoff) ConsecutiveTimeouts() int {
	return b.consecutiveTimeouts
}
