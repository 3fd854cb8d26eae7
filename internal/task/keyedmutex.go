package task

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes work per key by hashing keys onto a fixed set of
// mutex stripes. Unrelated keys may share a stripe; the same key never runs
// concurrently.
type keyedMutex struct {
	stripes []sync.Mutex
}

func newKeyedMutex(n int) *keyedMutex {
	return &keyedMutex{stripes: make([]sync.Mutex, n)}
}

func (m *keyedMutex) lock(key string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(key))

	stripe := &m.stripes[h.Sum32()%uint32(len(m.stripes))]
	stripe.Lock()

	return stripe.Unlock
}
