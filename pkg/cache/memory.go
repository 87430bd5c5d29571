package cache

import (
	"sync"
	"time"
)

// entry wraps a cached value with its insertion time and last touch.
type entry[V any] struct {
	value     V
	timestamp time.Time
	touched   uint64
}

// MemoryStore is a bounded in-process map with TTL expiry and LRU eviction.
// Expired entries are misses but stay in place until Sweep removes them.
type MemoryStore[V any] struct {
	mutex   sync.Mutex
	data    map[string]*entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	clock   uint64
	onEvict func(reason string)
}

// Eviction reasons passed to the eviction hook.
const (
	EvictCapacity = "capacity"
	EvictExpired  = "expired"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	onEvict func(reason string)
}

// WithMemoryMaxSize bounds the entry count.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) { c.maxSize = n }
}

// WithMemoryTTL sets how long entries stay fresh. Zero disables expiry.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.ttl = ttl }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

// WithEvictionHook is called once per removed entry.
func WithEvictionHook(fn func(reason string)) MemoryOption {
	return func(c *memoryConfig) { c.onEvict = fn }
}

// NewMemoryStore creates a bounded store. Defaults: 1000 entries, 5m TTL.
func NewMemoryStore[V any](opts ...MemoryOption) *MemoryStore[V] {
	cfg := memoryConfig{maxSize: 1000, ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore[V]{
		data:    make(map[string]*entry[V]),
		maxSize: max(cfg.maxSize, 1),
		ttl:     cfg.ttl,
		now:     cfg.now,
		onEvict: cfg.onEvict,
	}
}

// Get returns the value when present and younger than the TTL.
func (s *MemoryStore[V]) Get(key string) (V, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var zero V
	e, ok := s.data[key]
	if !ok || !s.fresh(e) {
		return zero, false
	}
	s.clock++
	e.touched = s.clock
	return e.value, true
}

// Set stores value under key. Inserting a new key into a full store evicts the
// least recently touched entry first. Returns true when an entry was evicted.
func (s *MemoryStore[V]) Set(key string, value V) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clock++
	if e, ok := s.data[key]; ok {
		e.value = value
		e.timestamp = s.now()
		e.touched = s.clock
		return false
	}

	evicted := false
	if len(s.data) >= s.maxSize {
		evicted = s.evictLRU()
	}
	s.data[key] = &entry[V]{value: value, timestamp: s.now(), touched: s.clock}
	return evicted
}

// Contains reports whether key is stored, fresh or not. It does not touch the entry.
func (s *MemoryStore[V]) Contains(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.data[key]
	return ok
}

// Len returns the number of stored entries including expired ones.
func (s *MemoryStore[V]) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.data)
}

// Sweep removes every expired entry and returns how many went.
func (s *MemoryStore[V]) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expiredKeys := make([]string, 0)
	for key, e := range s.data {
		if !s.fresh(e) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	for _, key := range expiredKeys {
		delete(s.data, key)
		if s.onEvict != nil {
			s.onEvict(EvictExpired)
		}
	}
	return len(expiredKeys)
}

// Clear drops every entry.
func (s *MemoryStore[V]) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data = make(map[string]*entry[V])
}

func (s *MemoryStore[V]) fresh(e *entry[V]) bool {
	return s.ttl <= 0 || s.now().Sub(e.timestamp) < s.ttl
}

// evictLRU scans for the least recently touched entry. Caller holds the lock.
func (s *MemoryStore[V]) evictLRU() bool {
	if len(s.data) == 0 {
		return false
	}

	var oldestKey string
	var oldest uint64
	first := true
	for key, e := range s.data {
		if first || e.touched < oldest {
			oldest = e.touched
			oldestKey = key
			first = false
		}
	}

	delete(s.data, oldestKey)
	if s.onEvict != nil {
		s.onEvict(EvictCapacity)
	}
	return true
}
