package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("alice", "value")

	got, ok := c.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_ExpiredEntriesAreInvisible(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.SetWithTTL("alice", "value", 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("alice")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_Delete(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("alice", "value")
	c.Delete("alice")

	_, ok := c.Get("alice")
	assert.False(t, ok)
}

func TestCache_OverwriteReplacesValue(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("alice", "old")
	c.Set("alice", "new")

	got, ok := c.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Stop()
	c.Stop()
}
