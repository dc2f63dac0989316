package intake

import (
	"hash/fnv"
	"sync"
)

// senderLocks serializes pipeline work per (sender, recipient) key so
// concurrent deliveries for the same sender cannot race past the
// find-or-create step. Striped to keep memory bounded.
type senderLocks struct {
	stripes [64]sync.Mutex
}

func (l *senderLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu
}
