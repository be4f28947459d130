package cache

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"
)

// Store is a size-bounded LRU of V values with per-entry deadlines.
// The zero capacity means unbounded. A nil *Store behaves as an always-empty
// cache so callers can leave caching unconfigured.
type Store[V any] struct {
	mu      sync.Mutex
	byKey   map[string]*list.Element
	recency *list.List
	limit   int
	now     func() time.Time
}

type slot[V any] struct {
	key      string
	val      V
	deadline time.Time
}

func (s *slot[V]) expired(at time.Time) bool {
	return !s.deadline.IsZero() && at.After(s.deadline)
}

func New[V any](limit int) *Store[V] {
	return &Store[V]{
		byKey:   map[string]*list.Element{},
		recency: list.New(),
		limit:   max(limit, 0),
		now:     time.Now,
	}
}

// Get returns the live value for key and marks it recently used.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	if s == nil {
		return zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byKey[key]
	if !ok {
		return zero, false
	}
	sl := el.Value.(*slot[V])
	if sl.expired(s.now()) {
		s.drop(el)
		return zero, false
	}
	s.recency.MoveToBack(el)
	return sl.val, true
}

// Set stores v under key. ttl <= 0 keeps it until evicted.
func (s *Store[V]) Set(key string, v V, ttl time.Duration) {
	if s == nil {
		return
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.byKey[key]; ok {
		sl := el.Value.(*slot[V])
		sl.val, sl.deadline = v, deadline
		s.recency.MoveToBack(el)
		return
	}
	s.byKey[key] = s.recency.PushBack(&slot[V]{key: key, val: v, deadline: deadline})
	s.shrink()
}

func (s *Store[V]) Delete(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if el, ok := s.byKey[key]; ok {
		s.drop(el)
	}
	s.mu.Unlock()
}

func (s *Store[V]) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Resize changes the capacity and evicts the oldest entries over it.
func (s *Store[V]) Resize(limit int) {
	s.mu.Lock()
	s.limit = max(limit, 0)
	s.shrink()
	s.mu.Unlock()
}

// Sweep removes every expired entry and reports how many went.
func (s *Store[V]) Sweep() int {
	if s == nil {
		return 0
	}
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for el := s.recency.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*slot[V]).expired(at) {
			s.drop(el)
			n++
		}
		el = next
	}
	return n
}

// StartJanitor sweeps every interval until the returned stop is called.
func (s *Store[V]) StartJanitor(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// shrink evicts from the least recently used end; s.mu must be held.
func (s *Store[V]) shrink() {
	for s.limit > 0 && len(s.byKey) > s.limit {
		s.drop(s.recency.Front())
	}
}

func (s *Store[V]) drop(el *list.Element) {
	delete(s.byKey, el.Value.(*slot[V]).key)
	s.recency.Remove(el)
}

// KeyFromStrings hashes parts into a fixed-size key so raw tokens and
// prompts are never held as map keys. Parts are length-prefixed.
func KeyFromStrings(parts ...string) string {
	h := fnv.New64a()
	var n [binary.MaxVarintLen64]byte
	for _, p := range parts {
		_, _ = h.Write(n[:binary.PutUvarint(n[:], uint64(len(p)))])
		_, _ = h.Write([]byte(p))
	}
	return string(h.Sum(nil))
}
