package transport

import "time"

const (
	// DefaultInitialBackoff is the reconnect delay floor.
	DefaultInitialBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the doubling reconnect delay.
	DefaultMaxBackoff = 30 * time.Second
)

// Backoff produces the reconnect delay sequence: initial, doubling per
// consecutive failure, capped at max, reset to initial on success.
// Not safe for concurrent use; callers guard it with their own lock.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// NewBackoff returns a Backoff with defaults filled in for zero values.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	return &Backoff{Initial: initial, Max: max}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence. The Nth consecutive call yields min(max, initial*2^(N-1)).
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}
	d := b.next
	if d > b.Max {
		d = b.Max
	}
	doubled := b.next * 2
	if doubled > b.Max {
		doubled = b.Max
	}
	b.next = doubled
	return d
}

// Reset returns the sequence to its floor. Called on every successful
// handshake.
func (b *Backoff) Reset() {
	b.next = 0
}
