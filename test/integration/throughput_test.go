package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// BenchmarkThroughput measures one allocate/heartbeat/complete round trip
// through the controller.
func BenchmarkThroughput(b *testing.B) {
	ctrl := startCoordinator(b, controller.Config{
		TotalUnits:      int64(b.N) + 1,
		ChunkSize:       1,
		PingTimeout:     time.Minute,
		CleanupInterval: time.Second,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		offer := ctrl.RequestWork()
		require.True(b, offer.Work)
		ctrl.RefreshHeartbeat(offer.JobID)
		require.True(b, ctrl.ReportCompletion(offer.JobID, true, types.CompletionInfo{}))
	}
	b.StopTimer()
}

// BenchmarkThroughputParallel runs the same round trip from many goroutines.
func BenchmarkThroughputParallel(b *testing.B) {
	ctrl := startCoordinator(b, controller.Config{
		TotalUnits:      int64(b.N) + 1,
		ChunkSize:       1,
		PingTimeout:     time.Minute,
		CleanupInterval: time.Second,
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			offer := ctrl.RequestWork()
			if !offer.Work {
				continue
			}
			ctrl.RefreshHeartbeat(offer.JobID)
			ctrl.ReportCompletion(offer.JobID, true, types.CompletionInfo{})
		}
	})
	b.StopTimer()
}
