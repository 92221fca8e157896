package keymutex

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// KeyMutex serializes work per key using a fixed set of striped locks.
// Transitions for the same order or lease always hash to the same stripe,
// so timeout, webhook, and user actions on one entity never interleave.
type KeyMutex struct {
	shards []sync.Mutex
}

// New builds a KeyMutex with the given stripe count (a default applies
// when n is not positive).
func New(n int) *KeyMutex {
	if n <= 0 {
		n = defaultShards
	}
	return &KeyMutex{shards: make([]sync.Mutex, n)}
}

// Lock acquires the stripe owning key.
func (m *KeyMutex) Lock(key string) {
	m.shards[m.index(key)].Lock()
}

// Unlock releases the stripe owning key.
func (m *KeyMutex) Unlock(key string) {
	m.shards[m.index(key)].Unlock()
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
