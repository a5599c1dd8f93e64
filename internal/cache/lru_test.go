package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[int], *clock) {
	c := NewLRUCache[int](size, ttl)
	clk := &clock{t: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", 3)

	clk.t = clk.t.Add(45 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	clk.t = clk.t.Add(time.Hour)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Zero(t, c.Size())
}

func TestLRUDeletePrefixAndClear(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("c1/2025/true", 1)
	c.Set("c1/2025/false", 2)
	c.Set("c2/2025/true", 3)

	assert.Equal(t, 2, c.DeletePrefix("c1/"))
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("c2/2025/true")
	assert.True(t, ok)

	c.Clear()
	assert.Zero(t, c.Size())
	c.Set("x", 1)
	assert.Equal(t, 1, c.Size())
}

func TestManagerSweep(t *testing.T) {
	a, clk := newTestCache(10, time.Second)
	b, _ := newTestCache(10, time.Hour)
	b.now = clk.now
	a.Set("k", 1)
	b.Set("k", 1)

	m := NewManager(nil)
	m.Register(a)
	m.Register(b)
	clk.t = clk.t.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep())

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
