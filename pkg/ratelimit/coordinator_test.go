package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrip_BlocksUntilDeadline(t *testing.T) {
	c := New()
	now := time.Now()
	blocked, _ := c.IsBlocked(now)
	assert.False(t, blocked)

	c.Trip(now, 50*time.Millisecond)
	blocked, remaining := c.IsBlocked(now)
	assert.True(t, blocked)
	assert.Equal(t, 50*time.Millisecond, remaining)

	blocked, remaining = c.IsBlocked(now.Add(100 * time.Millisecond))
	assert.False(t, blocked)
	assert.Zero(t, remaining)
}

func TestTrip_MonotonicExtensionOnly(t *testing.T) {
	c := New()
	now := time.Now()
	c.Trip(now, 200*time.Millisecond)
	first := c.Stats(now).BlockedUntil

	// A shorter retry-after from a second worker must not shorten the gate.
	c.Trip(now, 10*time.Millisecond)
	assert.Equal(t, first, c.Stats(now).BlockedUntil)

	// A longer one extends it.
	c.Trip(now, 500*time.Millisecond)
	assert.True(t, c.Stats(now).BlockedUntil.After(first))
}

func TestAcquire_ReturnsImmediatelyWhenUnblocked(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Acquire(ctx))
}

func TestAcquire_WaitsOutTrip(t *testing.T) {
	c := New()
	c.Trip(time.Now(), 30*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, c.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAcquire_RespectsCancellation(t *testing.T) {
	c := New()
	c.Trip(time.Now(), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Acquire(ctx)
	assert.Error(t, err)
}
