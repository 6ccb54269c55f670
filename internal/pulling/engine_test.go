package pulling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, factory TransportFactory, retry RetryPolicy, opts ...Option) *PullingEngine {
	t.Helper()
	cfg := EngineConfig{
		RescheduleInterval: 5 * time.Millisecond,
		SelfReschedule:     true,
	}
	e := NewPullingEngine(cfg, factory, retry, zap.NewNop(), opts...)
	t.Cleanup(func() { e.Shutdown(time.Second) })
	return e
}

func awaitResponse(t *testing.T, ch <-chan FeedResponse) FeedResponse {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return FeedResponse{}
	}
}

func TestEngineSubmitDeliversSuccessfulResponse(t *testing.T) {
	transport := &fakeTransport{body: []byte("payload"), status: 200}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	responses := e.Responses()
	req, err := NewFeedRequestBuilder("https://example.com/feed").Build()
	require.NoError(t, err)

	require.NoError(t, e.Submit(context.Background(), req))

	resp := awaitResponse(t, responses)
	assert.Equal(t, req.Fingerprint(), resp.Fingerprint)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("payload"), resp.Body)
}

func TestEngineSubmitDuplicateWhilePendingIsRejected(t *testing.T) {
	transport := &fakeTransport{status: 200, delay: 50 * time.Millisecond}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	req, err := NewFeedRequestBuilder("https://example.com/feed").Build()
	require.NoError(t, err)

	require.NoError(t, e.Submit(context.Background(), req))
	err = e.Submit(context.Background(), req)

	require.Error(t, err)
	var rejected *SubmissionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonDuplicate, rejected.Reason)
}

func TestEngineSubmitAfterShutdownIsRejected(t *testing.T) {
	transport := &fakeTransport{status: 200}
	e := NewPullingEngine(EngineConfig{}, func(Priority) Transport { return transport }, NewExponentialRetryPolicy(), zap.NewNop())
	e.Shutdown(time.Second)

	req, err := NewFeedRequestBuilder("https://example.com/feed").Build()
	require.NoError(t, err)

	err = e.Submit(context.Background(), req)
	require.Error(t, err)
	var rejected *SubmissionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonShutdown, rejected.Reason)
}

// flakyTransport fails with a 503 the first failCount calls, then succeeds.
type flakyTransport struct {
	failCount int32
	calls     atomic.Int32
}

func (f *flakyTransport) Get(_ context.Context, _ FeedRequest, _ time.Duration) ([]byte, int, error) {
	n := f.calls.Add(1)
	if n <= f.failCount {
		return nil, 503, &HttpStatusError{Code: 503}
	}
	return []byte("recovered"), 200, nil
}

func (f *flakyTransport) Shutdown() {}

func TestEngineRetriesTransientFailureThenDelivers(t *testing.T) {
	transport := &flakyTransport{failCount: 2}
	retry := &ExponentialRetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	e := newTestEngine(t, func(Priority) Transport { return transport }, retry)

	responses := e.Responses()
	req, err := NewFeedRequestBuilder("https://example.com/flaky").Build()
	require.NoError(t, err)
	require.NoError(t, e.Submit(context.Background(), req))

	resp := awaitResponse(t, responses)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("recovered"), resp.Body)
	assert.GreaterOrEqual(t, transport.calls.Load(), int32(3))
}

func TestEngineGivesUpOn4xxWithoutDelivering(t *testing.T) {
	transport := &fakeTransport{status: 404, err: &HttpStatusError{Code: 404}}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	responses := e.Responses()
	req, err := NewFeedRequestBuilder("https://example.com/missing").Build()
	require.NoError(t, err)
	require.NoError(t, e.Submit(context.Background(), req))

	select {
	case resp := <-responses:
		t.Fatalf("unexpected response delivered: %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineSchedulePeriodicRequiresSchedule(t *testing.T) {
	transport := &fakeTransport{status: 200}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	req, err := NewFeedRequestBuilder("https://example.com/feed").Build()
	require.NoError(t, err)

	_, err = e.SchedulePeriodic(context.Background(), req)
	require.Error(t, err)
	var progErr *ProgrammingError
	assert.ErrorAs(t, err, &progErr)
}

func TestEngineCancelUnknownHandleIsRejected(t *testing.T) {
	transport := &fakeTransport{status: 200}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	err := e.Cancel(Handle{})
	require.Error(t, err)
	var rejected *SubmissionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonInvalidHandle, rejected.Reason)
}

func TestEngineCancelInFlightSuppressesResponse(t *testing.T) {
	transport := &fakeTransport{status: 200, delay: 200 * time.Millisecond}
	e := newTestEngine(t, func(Priority) Transport { return transport }, NewExponentialRetryPolicy())

	responses := e.Responses()
	req, err := NewFeedRequestBuilder("https://example.com/slow").
		WithSchedule(Schedule{Interval: time.Minute}).
		Build()
	require.NoError(t, err)

	handle, err := e.SchedulePeriodic(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Cancel(handle))

	select {
	case resp := <-responses:
		t.Fatalf("unexpected response after cancel: %+v", resp)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestEngineSweepResubmitsDuePeriodicRequests(t *testing.T) {
	transport := &fakeTransport{status: 200}
	e := NewPullingEngine(EngineConfig{SelfReschedule: false}, func(Priority) Transport { return transport },
		NewExponentialRetryPolicy(), zap.NewNop())
	t.Cleanup(func() { e.Shutdown(time.Second) })

	responses := e.Responses()
	req, err := NewFeedRequestBuilder("https://example.com/periodic").
		WithSchedule(Schedule{Interval: time.Millisecond}).
		Build()
	require.NoError(t, err)
	require.NoError(t, e.Submit(context.Background(), req))

	first := awaitResponse(t, responses)
	assert.Equal(t, req.Fingerprint(), first.Fingerprint)

	time.Sleep(5 * time.Millisecond)
	e.Sweep()

	second := awaitResponse(t, responses)
	assert.Equal(t, req.Fingerprint(), second.Fingerprint)
}
