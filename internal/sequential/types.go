// Package sequential implements a sharded, per-key FIFO processor: at most
// one input per shard is ever being processed at a time, while unrelated
// shards proceed fully in parallel.
package sequential

import (
	"context"
	"time"
)

// Input is one unit of work submitted to a SequentialProcessor.
type Input struct {
	// Key selects the shard: two inputs with the same key are always
	// processed in submission order, never concurrently.
	Key string
	// Payload is opaque to the processor; it is handed to the Processor
	// function unchanged.
	Payload any
}

// Processor performs the actual work for one Input and must eventually
// return; it reports the outcome via its returned error, and
// SequentialProcessor maps that error into exactly one call of the input's
// Subscriber.OnSuccess or Subscriber.OnFailure.
type Processor func(ctx context.Context, in Input) error

// Subscriber is the completion contract an enqueued input's processing must
// satisfy: exactly one of OnSuccess or OnFailure fires, exactly once, no
// matter what the underlying Processor does (including panicking).
type Subscriber interface {
	OnSuccess()
	OnFailure(err error)
}

// QueueResolver maps an Input's key to a shard index in [0, shardCount).
// The same key must always resolve to the same shard.
type QueueResolver func(key string, shardCount int) int

// enqueuedInput is one queued unit of work together with its bookkeeping
// (spec.md's EnqueuedInput).
type enqueuedInput struct {
	input      Input
	subscriber Subscriber
	enqueuedAt time.Time
}
