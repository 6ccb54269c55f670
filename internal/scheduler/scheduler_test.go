package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/pulling"
)

type stubTransport struct{}

func (stubTransport) Get(_ context.Context, _ pulling.FeedRequest, _ time.Duration) ([]byte, int, error) {
	return []byte("ok"), 200, nil
}
func (stubTransport) Shutdown() {}

func TestSchedulerRejectsInvalidCronSpec(t *testing.T) {
	engine := pulling.NewPullingEngine(pulling.EngineConfig{SelfReschedule: false},
		func(pulling.Priority) pulling.Transport { return stubTransport{} },
		pulling.NewExponentialRetryPolicy(), zap.NewNop())
	defer engine.Shutdown(time.Second)

	_, err := New(engine, "not a cron spec", zap.NewNop())
	require.Error(t, err)
}

func TestSchedulerSweepsPeriodicRequestsOnTick(t *testing.T) {
	engine := pulling.NewPullingEngine(pulling.EngineConfig{SelfReschedule: false},
		func(pulling.Priority) pulling.Transport { return stubTransport{} },
		pulling.NewExponentialRetryPolicy(), zap.NewNop())
	defer engine.Shutdown(time.Second)

	responses := engine.Responses()
	req, err := pulling.NewFeedRequestBuilder("https://example.com/scheduled").
		WithSchedule(pulling.Schedule{Interval: time.Millisecond}).
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.Submit(context.Background(), req))

	select {
	case <-responses:
	case <-time.After(time.Second):
		t.Fatal("first submission never delivered")
	}

	sched, err := New(engine, "* * * * * *", zap.NewNop())
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	select {
	case resp := <-responses:
		assert.Equal(t, req.Fingerprint(), resp.Fingerprint)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler never swept due request")
	}
}
