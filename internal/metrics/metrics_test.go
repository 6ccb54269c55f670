package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/snapscore/pipeline/internal/pulling"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if admittedTotal == nil || httpRequestsTotal == nil || sequentialStallTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHTTPRequestRecordsCountAndDuration(t *testing.T) {
	Init()

	ObserveHTTPRequest("GET", "/v1/requests", 200, 15*time.Millisecond)

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected httpRequestsTotal for GET 200 to be observed, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

func TestRecorderRecordsPullingObservations(t *testing.T) {
	Init()
	rec := Recorder{}

	rec.OnAdmitted(pulling.PriorityHigh)
	if val := testutil.ToFloat64(admittedTotal.WithLabelValues(pulling.PriorityHigh.String())); val < 1 {
		t.Errorf("expected admittedTotal to increment, got %f", val)
	}

	rec.OnDuplicateDropped(pulling.PriorityHigh)
	if val := testutil.ToFloat64(duplicateDroppedTotal.WithLabelValues(pulling.PriorityHigh.String())); val < 1 {
		t.Errorf("expected duplicateDroppedTotal to increment, got %f", val)
	}

	rec.OnCooldownDeferred(pulling.PriorityHigh)
	if val := testutil.ToFloat64(cooldownDeferredTotal.WithLabelValues(pulling.PriorityHigh.String())); val < 1 {
		t.Errorf("expected cooldownDeferredTotal to increment, got %f", val)
	}

	rec.OnHTTPResult(pulling.PriorityHigh, true, 10*time.Millisecond)
	if val := testutil.ToFloat64(httpResultTotal.WithLabelValues(pulling.PriorityHigh.String(), "success")); val < 1 {
		t.Errorf("expected httpResultTotal success to increment, got %f", val)
	}

	rec.OnHTTPResult(pulling.PriorityHigh, false, 10*time.Millisecond)
	if val := testutil.ToFloat64(httpResultTotal.WithLabelValues(pulling.PriorityHigh.String(), "failure")); val < 1 {
		t.Errorf("expected httpResultTotal failure to increment, got %f", val)
	}

	rec.OnRetryDecision(pulling.PriorityHigh, false)
	if val := testutil.ToFloat64(retryDecisionsTotal.WithLabelValues(pulling.PriorityHigh.String(), "retry")); val < 1 {
		t.Errorf("expected retryDecisionsTotal retry to increment, got %f", val)
	}

	rec.OnRetryDecision(pulling.PriorityHigh, true)
	if val := testutil.ToFloat64(retryDecisionsTotal.WithLabelValues(pulling.PriorityHigh.String(), "give_up")); val < 1 {
		t.Errorf("expected retryDecisionsTotal give_up to increment, got %f", val)
	}

}

func TestObserveSequentialStallIncrementsByShard(t *testing.T) {
	Init()

	ObserveSequentialStall(3)
	if val := testutil.ToFloat64(sequentialStallTotal.WithLabelValues("3")); val < 1 {
		t.Errorf("expected sequentialStallTotal for shard 3 to increment, got %f", val)
	}
}

func TestObserveUnprocessedTotalSetsGauge(t *testing.T) {
	Init()

	ObserveUnprocessedTotal(7)
	if val := testutil.ToFloat64(sequentialUnprocessedTotal); val != 7 {
		t.Errorf("expected sequentialUnprocessedTotal to be 7, got %f", val)
	}
}
