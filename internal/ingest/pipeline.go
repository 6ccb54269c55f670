// Package ingest wires the pulling engine's response stream into the
// sequential processor: every FeedResponse is handed to a per-fingerprint
// shard so that responses for the same feed are always processed in
// arrival order, while unrelated feeds process fully in parallel.
package ingest

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/pulling"
	"github.com/snapscore/pipeline/internal/sequential"
)

// Handler processes one delivered FeedResponse. Returning an error routes
// the response through the pipeline's failure path (logged, never
// retried — retrying is the pulling engine's job, not the sequential
// stage's).
type Handler func(ctx context.Context, resp pulling.FeedResponse) error

// Pipeline consumes a PullingEngine's response stream and feeds each
// response through a SequentialProcessor keyed by fingerprint.
type Pipeline struct {
	engine    *pulling.PullingEngine
	processor *sequential.SequentialProcessor
	logger    *zap.Logger

	stop chan struct{}
}

// NewPipeline builds a Pipeline with shardCount shards, hashing each
// response's fingerprint to a shard with FNV-1a so the same feed always
// lands on the same shard.
func NewPipeline(engine *pulling.PullingEngine, shardCount int, handle Handler, logger *zap.Logger, opts ...sequential.Option) *Pipeline {
	process := func(ctx context.Context, in sequential.Input) error {
		resp := in.Payload.(pulling.FeedResponse)
		return handle(ctx, resp)
	}

	resolver := func(key string, shardCount int) int {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return int(h.Sum32() % uint32(shardCount))
	}

	return &Pipeline{
		engine:    engine,
		processor: sequential.NewSequentialProcessor(shardCount, resolver, process, logger, opts...),
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Run consumes engine.Responses() until the stream closes or ctx is
// cancelled. Blocking; call from its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	responses := p.engine.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			p.dispatch(resp)
		}
	}
}

// Stop halts Run without waiting for in-flight sequential work to drain.
func (p *Pipeline) Stop() { close(p.stop) }

// Pending returns the number of responses currently queued for sequential
// processing, across all shards.
func (p *Pipeline) Pending() int64 { return p.processor.Len() }

func (p *Pipeline) dispatch(resp pulling.FeedResponse) {
	in := sequential.Input{Key: resp.Fingerprint, Payload: resp}
	sub := sequential.NewFuncSubscriber(
		func() {},
		func(err error) {
			if p.logger != nil {
				p.logger.Error("response handler failed",
					zap.String("fingerprint", resp.Fingerprint),
					zap.Error(err),
				)
			}
		},
	)
	p.processor.ProcessSequentially(in, sub)
}
