package sequential

import "sync"

// ShardedQueueSet holds one FIFO queue per shard index behind a single
// mutex. A single lock (rather than one per shard) keeps enqueue,
// dequeue-head and the total counter consistent with each other without a
// separate accounting pass, matching the original's synchronized-block
// design around one queue map.
type ShardedQueueSet struct {
	mu     sync.Mutex
	queues [][]enqueuedInput
	total  int64
}

// NewShardedQueueSet builds an empty set with shardCount independent
// queues.
func NewShardedQueueSet(shardCount int) *ShardedQueueSet {
	return &ShardedQueueSet{queues: make([][]enqueuedInput, shardCount)}
}

// enqueue appends item to shard and reports whether the shard was empty
// beforehand — the caller must compute this atomically with the append,
// since "was empty before I added mine" is exactly the signal that tells
// the caller whether to start processing immediately or wait for the
// current head to finish.
func (s *ShardedQueueSet) enqueue(shard int, item enqueuedInput) (wasEmpty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasEmpty = len(s.queues[shard]) == 0
	s.queues[shard] = append(s.queues[shard], item)
	s.total++
	return wasEmpty
}

// dequeueHead removes and returns the current head of shard, if any.
func (s *ShardedQueueSet) dequeueHead(shard int) (enqueuedInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[shard]
	if len(q) == 0 {
		return enqueuedInput{}, false
	}
	head := q[0]
	s.queues[shard] = q[1:]
	s.total--
	return head, true
}

// peekHead returns the current head of shard without removing it.
func (s *ShardedQueueSet) peekHead(shard int) (enqueuedInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[shard]
	if len(q) == 0 {
		return enqueuedInput{}, false
	}
	return q[0], true
}

// Len returns the total number of enqueued-but-not-yet-completed inputs
// across every shard.
func (s *ShardedQueueSet) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ShardLen returns the queue length of one shard, for diagnostics/tests.
func (s *ShardedQueueSet) ShardLen(shard int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[shard])
}
