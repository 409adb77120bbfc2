package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	c.Put("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	_, _ = c.Get("a") // touch a so b becomes the eviction candidate
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	now = now.Add(time.Minute + time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRU_PutRefreshesTTL(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	now = now.Add(45 * time.Second)
	c.Put("a", 2)
	now = now.Add(30 * time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
