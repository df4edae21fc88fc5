package manager

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// sessionLocks serializes operations per session without holding a
// global lock across driver calls. Sessions hash onto a fixed shard
// set, so two sessions may share a lock; that only costs latency,
// never correctness.
type sessionLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *sessionLocks) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	shard := &l.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
