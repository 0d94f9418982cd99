package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerZeroWindowAdmitsEverything(t *testing.T) {
	d := newDebouncer(0)

	assert.True(t, d.allow("x"))
	assert.True(t, d.allow("x"))
}

func TestDebouncerDropsWithinWindow(t *testing.T) {
	now := time.Now()
	d := newDebouncer(30 * time.Second)
	d.now = func() time.Time { return now }

	assert.True(t, d.allow("x"))
	assert.False(t, d.allow("x"))

	// A different id has its own window
	assert.True(t, d.allow("y"))

	now = now.Add(31 * time.Second)
	assert.True(t, d.allow("x"))
}

func TestDebouncerDroppedEventDoesNotExtendWindow(t *testing.T) {
	now := time.Now()
	d := newDebouncer(30 * time.Second)
	d.now = func() time.Time { return now }

	assert.True(t, d.allow("x"))

	// Dropped events must not push the window forward, otherwise a steady
	// trickle of events would starve the id forever
	now = now.Add(20 * time.Second)
	assert.False(t, d.allow("x"))
	now = now.Add(11 * time.Second)
	assert.True(t, d.allow("x"))
}

func TestDebouncerForget(t *testing.T) {
	d := newDebouncer(time.Minute)

	assert.True(t, d.allow("x"))
	d.forget("x")
	assert.True(t, d.allow("x"))
}
