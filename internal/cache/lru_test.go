package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int64, string](2, time.Minute)
	c.Set(1, "a")
	c.Set(2, "b")

	_, ok := c.Get(1) // 1 is now the most recent
	require.True(t, ok)

	c.Set(3, "c")
	_, ok = c.Get(2)
	assert.False(t, ok, "2 should have been evicted")

	v, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[string, int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(30 * time.Second)
	c.Set("c", 3)

	now = now.Add(45 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanExpired()) // "b"
	assert.Equal(t, 1, c.Size())
}

func TestLRUDeletePurgeAndStats(t *testing.T) {
	c := NewLRUCache[int64, int](0, time.Minute)
	c.Set(1, 10)
	c.Set(2, 20) // size clamps to 1
	assert.Equal(t, 1, c.Size())

	_, _ = c.Get(2)
	_, _ = c.Get(1)
	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)

	c.Delete(2)
	assert.Equal(t, 0, c.Size())

	c.Set(5, 50)
	c.Purge()
	assert.Equal(t, 0, c.Size())
	_, ok := c.Get(5)
	assert.False(t, ok)
}

func TestManagerCleansRegisteredCaches(t *testing.T) {
	c := NewLRUCache[int64, int](10, time.Nanosecond)
	c.Set(1, 1)
	c.Set(2, 2)
	time.Sleep(time.Millisecond)

	m := NewManager()
	m.Register(c)
	assert.Equal(t, 2, m.CleanAll())

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
