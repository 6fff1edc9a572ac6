package profile

import (
	"hash/fnv"
	"sync"
)

// shardedMutex is a fixed pool of mutexes keyed by identifier. Memory stays
// bounded no matter how many identifiers are seen; unrelated identifiers
// occasionally share a shard.
type shardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *shardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *shardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}
