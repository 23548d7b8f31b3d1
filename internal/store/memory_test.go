package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_GetWithinTTL(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	s.Put("forecast", "10001", "snapshot", 5*time.Minute)

	clock.Advance(4*time.Minute + 59*time.Second)
	v, ok := s.Get("forecast", "10001")
	require.True(t, ok)
	require.Equal(t, "snapshot", v)
}

func TestMemoryStore_ExpiredEntryIsMiss(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	s.Put("forecast", "10001", "snapshot", 5*time.Minute)

	clock.Advance(5*time.Minute + time.Second)
	_, ok := s.Get("forecast", "10001")
	require.False(t, ok)
	require.Equal(t, 0, s.Len(), "expired entry should be dropped on access")
}

func TestMemoryStore_NamespacesAreIsolated(t *testing.T) {
	s := NewMemoryStore()

	s.Put("forecast", "paris", 1, time.Minute)
	s.Put("search", "paris", 2, time.Minute)

	v, ok := s.Get("forecast", "paris")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = s.Get("search", "paris")
	require.True(t, ok)
	require.Equal(t, 2, v)

	s.Invalidate("forecast", "paris")
	_, ok = s.Get("forecast", "paris")
	require.False(t, ok)
	_, ok = s.Get("search", "paris")
	require.True(t, ok)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	s.Put("ns", "k", "old", time.Minute)
	clock.Advance(50 * time.Second)
	s.Put("ns", "k", "new", time.Minute)

	// the rewrite restarts the TTL window
	clock.Advance(30 * time.Second)
	v, ok := s.Get("ns", "k")
	require.True(t, ok)
	require.Equal(t, "new", v)
	require.Equal(t, 1, s.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	s.Put("short", "a", 1, time.Minute)
	s.Put("short", "b", 2, time.Minute)
	s.Put("long", "c", 3, time.Hour)

	clock.Advance(2 * time.Minute)
	require.Equal(t, 2, s.Sweep())
	require.Equal(t, 1, s.Len())

	_, ok := s.Get("long", "c")
	require.True(t, ok)
}

func TestMemoryStore_LRUBound(t *testing.T) {
	s := NewMemoryStore(WithMaxEntries(2))

	s.Put("ns", "a", 1, time.Hour)
	s.Put("ns", "b", 2, time.Hour)

	// touch a so b becomes least recently used
	_, ok := s.Get("ns", "a")
	require.True(t, ok)

	s.Put("ns", "c", 3, time.Hour)

	_, ok = s.Get("ns", "b")
	require.False(t, ok)
	_, ok = s.Get("ns", "a")
	require.True(t, ok)
	_, ok = s.Get("ns", "c")
	require.True(t, ok)
}

func TestNamespace_Typed(t *testing.T) {
	s := NewMemoryStore()
	ns := NewNamespace[[]string](s, "search", 10*time.Minute)

	_, ok := ns.Get("lo")
	require.False(t, ok)

	ns.Put("lo", []string{"London", "Los Angeles"})
	v, ok := ns.Get("lo")
	require.True(t, ok)
	require.Equal(t, []string{"London", "Los Angeles"}, v)

	// a value of another type under the same partition is reported as a miss
	s.Put("search", "bad", 42, time.Minute)
	_, ok = ns.Get("bad")
	require.False(t, ok)

	ns.Invalidate("lo")
	_, ok = ns.Get("lo")
	require.False(t, ok)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(WithMaxEntries(50))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (i+j)%64)
				s.Put("ns", key, j, time.Minute)
				s.Get("ns", key)
				if j%10 == 0 {
					s.Invalidate("ns", key)
				}
			}
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, s.Len(), 50)
}
