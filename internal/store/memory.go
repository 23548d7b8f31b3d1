package store

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a single cached value together with its storage time and TTL.
type Entry struct {
	Value    any
	StoredAt time.Time
	TTL      time.Duration
}

// IsExpired reports whether the entry is past its TTL at the given instant.
func (e Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

type slot struct {
	namespace string
	key       string
	entry     Entry
}

// MemoryStore is a concurrency-safe, namespaced TTL cache. Expiry is lazy: an expired
// entry is never returned and is dropped on the next access or Sweep.
type MemoryStore struct {
	mu sync.Mutex

	now        func() time.Time
	maxEntries int // 0 = unbounded

	// key: namespace + "\x00" + key
	items map[string]*list.Element
	// front = most recently used
	order *list.List
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxEntries bounds the store; the least recently used entry is evicted on insert.
// Values <= 0 leave the store unbounded.
func WithMaxEntries(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:   time.Now,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func compositeKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get returns the value stored under namespace/key if present and not expired.
func (s *MemoryStore) Get(namespace, key string) (any, bool) {
	ck := compositeKey(namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[ck]
	if !ok {
		return nil, false
	}
	sl := el.Value.(*slot)
	if sl.entry.IsExpired(s.now()) {
		s.removeElement(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return sl.entry.Value, true
}

// Put stores value under namespace/key, unconditionally replacing any prior entry.
func (s *MemoryStore) Put(namespace, key string, value any, ttl time.Duration) {
	ck := compositeKey(namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{Value: value, StoredAt: s.now(), TTL: ttl}
	if el, ok := s.items[ck]; ok {
		el.Value.(*slot).entry = entry
		s.order.MoveToFront(el)
		return
	}

	s.items[ck] = s.order.PushFront(&slot{namespace: namespace, key: key, entry: entry})

	if s.maxEntries > 0 {
		for s.order.Len() > s.maxEntries {
			s.removeElement(s.order.Back())
		}
	}
}

// Invalidate drops namespace/key if present.
func (s *MemoryStore) Invalidate(namespace, key string) {
	ck := compositeKey(namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[ck]; ok {
		s.removeElement(el)
	}
}

// Sweep removes every expired entry and returns how many were evicted.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*slot).entry.IsExpired(now) {
			s.removeElement(el)
			evicted++
		}
		el = next
	}
	return evicted
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemoryStore) removeElement(el *list.Element) {
	sl := el.Value.(*slot)
	delete(s.items, compositeKey(sl.namespace, sl.key))
	s.order.Remove(el)
}

// Cache is the operation set the typed Namespace view needs from a backend.
type Cache interface {
	Get(namespace, key string) (any, bool)
	Put(namespace, key string, value any, ttl time.Duration)
	Invalidate(namespace, key string)
}

// Namespace is a typed view over one partition of a Cache with a fixed TTL.
type Namespace[V any] struct {
	store Cache
	name  string
	ttl   time.Duration
}

// NewNamespace returns a typed view of the named partition.
func NewNamespace[V any](store Cache, name string, ttl time.Duration) *Namespace[V] {
	return &Namespace[V]{store: store, name: name, ttl: ttl}
}

// Name returns the partition name.
func (n *Namespace[V]) Name() string { return n.name }

// TTL returns the partition's entry lifetime.
func (n *Namespace[V]) TTL() time.Duration { return n.ttl }

// Get returns the live value stored under key. A missing or expired entry, or one
// of another type, reports false. The value is returned as stored, so callers
// that hand it out must copy any slices or pointers it holds.
func (n *Namespace[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := n.store.Get(n.name, key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Put stores value under key for the namespace TTL, replacing any previous entry.
func (n *Namespace[V]) Put(key string, value V) {
	n.store.Put(n.name, key, value, n.ttl)
}

// Invalidate removes key from the namespace. Removing a missing key is a no-op.
func (n *Namespace[V]) Invalidate(key string) {
	n.store.Invalidate(n.name, key)
}
