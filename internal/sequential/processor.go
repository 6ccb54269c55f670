package sequential

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/metrics"
)

// defaultStallThreshold matches the 2-second "waiting too long" watermark.
const defaultStallThreshold = 2 * time.Second

// Option customises a SequentialProcessor.
type Option func(*SequentialProcessor)

// WithStallThreshold overrides the default 2s stall-warning watermark.
func WithStallThreshold(d time.Duration) Option {
	return func(p *SequentialProcessor) { p.stallThreshold = d }
}

// SequentialProcessor guarantees at most one in-flight Processor call per
// shard/key while letting unrelated shards run fully in parallel. Once a
// Processor call returns or panics, the next queued input for that shard is
// always picked up, whatever the Subscriber callback does (a panicking
// callback included). A Processor call that never returns holds its shard.
type SequentialProcessor struct {
	shards     *ShardedQueueSet
	shardCount int
	resolver   QueueResolver
	process    Processor
	logger     *zap.Logger

	stallThreshold time.Duration
}

// NewSequentialProcessor builds a processor with shardCount independent
// queues, using resolver to route each Input.Key to a shard.
func NewSequentialProcessor(shardCount int, resolver QueueResolver, process Processor, logger *zap.Logger, opts ...Option) *SequentialProcessor {
	p := &SequentialProcessor{
		shards:         NewShardedQueueSet(shardCount),
		shardCount:     shardCount,
		resolver:       resolver,
		process:        process,
		logger:         logger,
		stallThreshold: defaultStallThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessSequentially enqueues in on its resolved shard and, if that shard
// was idle, starts processing immediately. sub is notified exactly once,
// after processing completes, no matter how many other inputs share its
// shard.
func (p *SequentialProcessor) ProcessSequentially(in Input, sub Subscriber) {
	shard := p.resolveShard(in.Key)
	item := enqueuedInput{input: in, subscriber: sub, enqueuedAt: time.Now()}

	wasEmpty := p.shards.enqueue(shard, item)
	p.logUnprocessedTotal()
	if wasEmpty {
		go p.runHead(shard)
	}
}

// Len reports the total number of inputs currently enqueued across every
// shard, including the one being processed.
func (p *SequentialProcessor) Len() int64 { return p.shards.Len() }

func (p *SequentialProcessor) resolveShard(key string) int {
	idx := p.resolver(key, p.shardCount)
	if idx < 0 || idx >= p.shardCount {
		if p.logger != nil {
			p.logger.Error("queue resolver returned out-of-range shard, clamping",
				zap.Int("shard", idx), zap.Int("shard_count", p.shardCount))
		}
		idx = ((idx % p.shardCount) + p.shardCount) % p.shardCount
	}
	return idx
}

// runHead processes the current head of shard and unconditionally advances
// the queue afterward, whatever happened during processing.
func (p *SequentialProcessor) runHead(shard int) {
	defer p.advance(shard)

	item, ok := p.shards.peekHead(shard)
	if !ok {
		return
	}
	p.logIfStalled(shard, item)
	p.invoke(item)
}

// advance drops the just-finished head and, if another input is waiting,
// starts it. Never called with the shard's head still being processed.
func (p *SequentialProcessor) advance(shard int) {
	p.shards.dequeueHead(shard)
	p.logUnprocessedTotal()
	if next, ok := p.shards.peekHead(shard); ok {
		_ = next
		go p.runHead(shard)
	}
}

// logUnprocessedTotal publishes ShardedQueueSet's shared counter under the
// "unprocessed_total" analytics id, mirroring how the original Java source
// tags it on every enqueue/dequeue.
func (p *SequentialProcessor) logUnprocessedTotal() {
	total := p.shards.Len()
	metrics.ObserveUnprocessedTotal(total)
	if p.logger != nil {
		p.logger.Debug("unprocessed total changed",
			zap.String("analytics_id", "unprocessed_total"),
			zap.Int64("count", total),
		)
	}
}

// invoke runs the Processor for item and notifies its subscriber. A panic
// inside the Processor is converted into a failure; a panic inside the
// subscriber callback is logged and swallowed, since neither may be
// allowed to escape and stall this shard.
func (p *SequentialProcessor) invoke(item enqueuedInput) {
	err := p.runProcess(item)
	p.notify(item.subscriber, err)
}

func (p *SequentialProcessor) runProcess(item enqueuedInput) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sequential processor panicked: %v", r)
		}
	}()
	return p.process(context.Background(), item.input)
}

func (p *SequentialProcessor) notify(sub Subscriber, err error) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("subscriber callback panicked", zap.Any("panic", r))
		}
	}()
	if err != nil {
		sub.OnFailure(err)
	} else {
		sub.OnSuccess()
	}
}

func (p *SequentialProcessor) logIfStalled(shard int, item enqueuedInput) {
	waiting := time.Since(item.enqueuedAt)
	if waiting <= p.stallThreshold {
		return
	}
	metrics.ObserveSequentialStall(shard)
	if p.logger == nil {
		return
	}
	p.logger.Warn("enqueued input waited too long before processing",
		zap.String("analytics_id", "enqueued_input_for_too_long"),
		zap.String("key", item.input.Key),
		zap.Int("shard", shard),
		zap.Duration("waiting", waiting),
	)
}
