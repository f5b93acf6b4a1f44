package store

// The cloud-backed stores need to remember the size or absence of remote
// blobs to cut down on HEAD-style requests. This file implements that cache.

import (
	"errors"
	"sync"
	"time"
)

// ErrNotExist means the key is not present in the store.
var ErrNotExist = errors.New("key does not exist")

// head is the entry stored in a sizecache.
type head struct {
	expire time.Time
	size   int64 // size of blob. 0 = unknown, negative = doesn't exist
}

// A sizecache remembers the size or non-existence of a remote blob. Entries
// expire after a while; misses expire sooner than hits, so a key populated
// by another process is eventually noticed.
type sizecache struct {
	m         sync.Mutex      // protects everything below
	cache     map[string]head // blob sizes by key
	sweeptime time.Time       // next time to expire old entries
}

const (
	sizeDeleted int64 = -1

	missTTL = 1 * time.Hour
	hitTTL  = 240 * time.Hour
)

func newSizeCache() *sizecache {
	return &sizecache{cache: make(map[string]head)}
}

// Get returns the size associated with key, calling fill on a cache miss.
// Returns ErrNotExist if the key is known to be absent.
func (s *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if time.Now().After(s.sweeptime) {
		go s.sweep()
	}
	entry := s.cache[key]
	if entry.size > 0 {
		return entry.size, nil
	}
	if entry.size < 0 {
		return 0, ErrNotExist
	}
	if fill == nil {
		return 0, nil
	}
	size, err := fill(key)
	s.set0(key, size)
	return size, err
}

// Set caches a size for the given key. Use sizeDeleted to mark the key as
// missing.
func (s *sizecache) Set(key string, size int64) {
	s.m.Lock()
	s.set0(key, size)
	s.m.Unlock()
}

func (s *sizecache) set0(key string, size int64) {
	ttl := hitTTL
	switch {
	case size < 0:
		ttl = missTTL
	case size == 0:
		ttl = 0
	}
	s.cache[key] = head{expire: time.Now().Add(ttl), size: size}
}

// sweep removes expired entries. It holds the lock the whole time.
func (s *sizecache) sweep() {
	s.m.Lock()
	defer s.m.Unlock()
	now := time.Now()
	s.sweeptime = now.Add(time.Hour)
	for k, v := range s.cache {
		if now.After(v.expire) {
			delete(s.cache, k)
		}
	}
}
