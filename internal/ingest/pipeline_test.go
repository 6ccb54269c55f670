package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/pulling"
)

type stubTransport struct{}

func (stubTransport) Get(_ context.Context, _ pulling.FeedRequest, _ time.Duration) ([]byte, int, error) {
	return []byte("body"), 200, nil
}
func (stubTransport) Shutdown() {}

func newTestEngine(t *testing.T) *pulling.PullingEngine {
	t.Helper()
	e := pulling.NewPullingEngine(pulling.EngineConfig{SelfReschedule: true},
		func(pulling.Priority) pulling.Transport { return stubTransport{} },
		pulling.NewExponentialRetryPolicy(), zap.NewNop())
	t.Cleanup(func() { e.Shutdown(time.Second) })
	return e
}

func TestPipelineDeliversResponsesToHandler(t *testing.T) {
	engine := newTestEngine(t)

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, resp pulling.FeedResponse) error {
		mu.Lock()
		handled = append(handled, resp.Fingerprint)
		mu.Unlock()
		return nil
	}

	pipeline := NewPipeline(engine, 4, handler, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)
	t.Cleanup(pipeline.Stop)

	req, err := pulling.NewFeedRequestBuilder("https://example.com/feed").Build()
	require.NoError(t, err)
	require.NoError(t, engine.Submit(context.Background(), req))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1 && handled[0] == req.Fingerprint()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipelineSameFingerprintProcessedSequentially(t *testing.T) {
	engine := newTestEngine(t)

	var mu sync.Mutex
	var concurrent, maxConcurrent int
	handler := func(_ context.Context, resp pulling.FeedResponse) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}

	pipeline := NewPipeline(engine, 4, handler, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)
	t.Cleanup(pipeline.Stop)

	req, err := pulling.NewFeedRequestBuilder("https://example.com/repeatable").
		WithSchedule(pulling.Schedule{Interval: time.Millisecond}).
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.Submit(context.Background(), req))

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxConcurrent, 1)
}

func TestPipelinePendingReflectsQueueDepth(t *testing.T) {
	engine := newTestEngine(t)
	release := make(chan struct{})
	handler := func(_ context.Context, resp pulling.FeedResponse) error {
		<-release
		return nil
	}

	pipeline := NewPipeline(engine, 1, handler, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)
	t.Cleanup(pipeline.Stop)
	t.Cleanup(func() { close(release) })

	req, err := pulling.NewFeedRequestBuilder("https://example.com/pending").Build()
	require.NoError(t, err)
	require.NoError(t, engine.Submit(context.Background(), req))

	require.Eventually(t, func() bool { return pipeline.Pending() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestPipelineStopHaltsConsumption(t *testing.T) {
	engine := newTestEngine(t)
	handler := func(context.Context, pulling.FeedResponse) error { return nil }

	pipeline := NewPipeline(engine, 1, handler, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pipeline.Run(ctx)
		close(done)
	}()

	pipeline.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
