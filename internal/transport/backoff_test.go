package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(2*time.Second, 30*time.Second)
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i+1)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)
	b.Next()
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, DefaultInitialBackoff, b.Initial)
	assert.Equal(t, DefaultMaxBackoff, b.Max)
	assert.Equal(t, DefaultInitialBackoff, b.Next())
}

func TestBackoffCapBelowInitial(t *testing.T) {
	// A cap below the floor clamps the very first delay.
	b := NewBackoff(10*time.Second, 3*time.Second)
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
}
