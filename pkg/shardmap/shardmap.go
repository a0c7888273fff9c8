// Package shardmap provides a partitioned keyed state store. Each key owns its
// own mutex, so a slow transition on one key never blocks another key, and
// transitions on the same key run strictly in arrival order.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type entry[V any] struct {
	mu     sync.Mutex
	value  V
	loaded bool
	// dead 已从分片中移除，持有旧指针的调用方需重新获取
	dead bool
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]*entry[V]
}

// Store is a sharded map of per-key state.
type Store[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
}

// New creates a store with n shards. hash maps a key to its shard.
func New[K comparable, V any](n int, hash func(K) uint64) *Store[K, V] {
	if n <= 0 {
		n = 32
	}
	s := &Store[K, V]{shards: make([]*shard[K, V], n), hash: hash}
	for i := range s.shards {
		s.shards[i] = &shard[K, V]{items: make(map[K]*entry[V])}
	}
	return s
}

// StringHash is the default hash for string keys.
func StringHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

func (s *Store[K, V]) shardFor(key K) *shard[K, V] {
	return s.shards[s.hash(key)%uint64(len(s.shards))]
}

func (s *Store[K, V]) lookup(key K) *entry[V] {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e := sh.items[key]
	sh.mu.RUnlock()
	return e
}

func (s *Store[K, V]) getOrCreate(key K) *entry[V] {
	if e := s.lookup(key); e != nil {
		return e
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.items[key]; ok {
		return e
	}
	e := &entry[V]{}
	sh.items[key] = e
	return e
}

// lockLive returns the key's entry locked, skipping entries removed while we
// waited for their lock.
func (s *Store[K, V]) lockLive(key K) *entry[V] {
	for {
		e := s.getOrCreate(key)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// Update runs fn under the key's lock. fn receives the current value and
// whether one has been stored; the returned value is stored only when fn
// returns a nil error.
func (s *Store[K, V]) Update(key K, fn func(current V, ok bool) (V, error)) (V, error) {
	e := s.lockLive(key)
	defer e.mu.Unlock()

	next, err := fn(e.value, e.loaded)
	if err != nil {
		return e.value, err
	}
	e.value = next
	e.loaded = true
	return next, nil
}

// View runs fn under the key's lock without creating the key.
func (s *Store[K, V]) View(key K, fn func(current V, ok bool)) {
	e := s.lookup(key)
	if e == nil {
		var zero V
		fn(zero, false)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		var zero V
		fn(zero, false)
		return
	}
	fn(e.value, e.loaded)
}

// Get returns the stored value. Callers must not mutate reference fields of V.
func (s *Store[K, V]) Get(key K) (V, bool) {
	var (
		out V
		ok  bool
	)
	s.View(key, func(v V, loaded bool) {
		out, ok = v, loaded
	})
	return out, ok
}

func (s *Store[K, V]) Delete(key K) {
	s.DeleteIf(key, func(V) bool { return true })
}

// DeleteIf removes the key when pred holds for its stored value. pred runs
// under the key's lock, so no Update on that key can interleave with the check.
func (s *Store[K, V]) DeleteIf(key K, pred func(current V) bool) bool {
	e := s.lookup(key)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !e.loaded || !pred(e.value) {
		return false
	}
	e.dead = true

	sh := s.shardFor(key)
	sh.mu.Lock()
	if sh.items[key] == e {
		delete(sh.items, key)
	}
	sh.mu.Unlock()
	return true
}

// Keys returns a point-in-time list of keys with stored values.
func (s *Store[K, V]) Keys() []K {
	type pair struct {
		key K
		e   *entry[V]
	}
	var pairs []pair
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.items {
			pairs = append(pairs, pair{key: k, e: e})
		}
		sh.mu.RUnlock()
	}

	keys := make([]K, 0, len(pairs))
	for _, p := range pairs {
		p.e.mu.Lock()
		loaded := p.e.loaded && !p.e.dead
		p.e.mu.Unlock()
		if loaded {
			keys = append(keys, p.key)
		}
	}
	return keys
}

func (s *Store[K, V]) Len() int {
	return len(s.Keys())
}
