// Package syncutil provides string-keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyMutex serializes work per string key using a fixed pool of channel-based
// mutexes, so waiters can bail out on context cancellation. Memory is bounded
// regardless of how many keys are seen, at the cost of occasional false
// sharing between keys that hash to the same shard.
type KeyMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyMutex creates a new keyed mutex with all shards unlocked.
func NewKeyMutex() *KeyMutex {
	m := &KeyMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Acquire locks the shard for key, respecting context cancellation while
// waiting. On success it returns a release function the caller MUST invoke;
// on cancellation it returns nil and the context error.
func (m *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIndex(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
