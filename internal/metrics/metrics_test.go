package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// newTestCollector resets the default registry so every test can register
func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	return NewCollector()
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.jobsAllocated, "jobsAllocated counter should be initialized")
	assert.NotNil(t, collector.heartbeats, "heartbeats counter should be initialized")
	assert.NotNil(t, collector.completions, "completions counter should be initialized")
	assert.NotNil(t, collector.jobsReclaimed, "jobsReclaimed counter should be initialized")
	assert.NotNil(t, collector.jobsUnclaimed, "jobsUnclaimed gauge should be initialized")
	assert.NotNil(t, collector.jobsInFlight, "jobsInFlight gauge should be initialized")
	assert.NotNil(t, collector.jobsCompleted, "jobsCompleted gauge should be initialized")
	assert.NotNil(t, collector.rpcDuration, "rpcDuration histogram should be initialized")
}

func TestRecordAllocate(t *testing.T) {
	collector := newTestCollector(t)

	for i := 0; i < 5; i++ {
		collector.RecordAllocate()
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.jobsAllocated))
}

func TestRecordHeartbeat(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordHeartbeat(true)
	collector.RecordHeartbeat(true)
	collector.RecordHeartbeat(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.heartbeats.WithLabelValues(ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.heartbeats.WithLabelValues(ResultRejected)))
}

func TestRecordCompletion(t *testing.T) {
	collector := newTestCollector(t)

	testCases := []struct {
		name     string
		success  bool
		accepted bool
		label    string
	}{
		{"success accepted", true, true, ResultSuccess},
		{"failure accepted", false, true, ResultFailure},
		{"success rejected", true, false, ResultRejected},
		{"failure rejected", false, false, ResultRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.ToFloat64(collector.completions.WithLabelValues(tc.label))
			collector.RecordCompletion(tc.success, tc.accepted)
			after := testutil.ToFloat64(collector.completions.WithLabelValues(tc.label))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordReclaimed(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordReclaimed(3)
	collector.RecordReclaimed(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.jobsReclaimed))
}

func TestUpdateLedgerStats(t *testing.T) {
	collector := newTestCollector(t)

	collector.UpdateLedgerStats(types.LedgerStatus{Unclaimed: 10, InFlight: 4, Completed: 7})
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.jobsUnclaimed))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.jobsInFlight))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.jobsCompleted))
}

func TestObserveRPC(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotPanics(t, func() {
		collector.ObserveRPC("RequestWork", 3*time.Millisecond)
		collector.ObserveRPC("RefreshHeartbeat", time.Millisecond)
	})
	assert.Equal(t, 2, testutil.CollectAndCount(collector.rpcDuration))
}

func TestCollectorIsolation(t *testing.T) {
	collector1 := newTestCollector(t)
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector := newTestCollector(t)

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordAllocate()
			collector.RecordHeartbeat(true)
			collector.RecordCompletion(true, true)
			collector.UpdateLedgerStats(types.LedgerStatus{Unclaimed: 1})
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.jobsAllocated))
}

func TestMetricsEndpoint(t *testing.T) {
	collector := newTestCollector(t)
	collector.RecordAllocate()

	srv := NewServer(0)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "balancer_jobs_allocated_total 1")
}
