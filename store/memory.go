package store

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Memory implements an in-memory version of a store. It is intended mainly
// for testing.
type Memory struct {
	m     sync.RWMutex
	blobs map[string]*memblob
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]*memblob)}
}

// List returns a channel giving the key of every blob in the store.
func (ms *Memory) List() <-chan string {
	c := make(chan string)
	go func() {
		ms.m.RLock()
		var keys []string
		for k := range ms.blobs {
			keys = append(keys, k)
		}
		ms.m.RUnlock()
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns every key beginning with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.blobs {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Open returns a ReadAtCloser over the given blob along with its size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	b, ok := ms.blobs[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("no blob %s", key)
	}
	return b, int64(len(b.data)), nil
}

// Create makes a new blob and returns a writer to fill it. The blob is
// visible to readers immediately, matching the behavior of a half-written
// file, so tests that need atomicity should write before reading.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.blobs[key]; ok {
		return nil, ErrKeyExists
	}
	b := &memblob{}
	ms.blobs[key] = b
	return b, nil
}

// Delete removes the given key. It is not an error if the key is absent.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.blobs, key)
	ms.m.Unlock()
	return nil
}

type memblob struct {
	m    sync.RWMutex
	data []byte
}

func (b *memblob) Write(p []byte) (int, error) {
	b.m.Lock()
	b.data = append(b.data, p...)
	b.m.Unlock()
	return len(p), nil
}

func (b *memblob) Close() error { return nil }

func (b *memblob) ReadAt(p []byte, off int64) (int, error) {
	b.m.RLock()
	defer b.m.RUnlock()
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
