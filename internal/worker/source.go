// ============================================================================
// Beaver-Balancer Job Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Defines the abstraction a worker uses to talk to the coordinator.
//
// Motivation:
//   Workers run either in the coordinator process (standalone mode) or on
//   remote machines (worker mode). Sessions and clients only see JobSource.
//
//   - Standalone Mode: JobSource calls the Controller directly.
//   - Worker Mode: JobSource wraps a gRPC client to the coordinator.
//
// ============================================================================

package worker

import (
	"context"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// JobSource defines the coordinator operations a worker depends on.
//
// The bool results carry the coordinator's answer ("accepted" / "still
// in flight"); the error results are transport failures only.
type JobSource interface {
	// RequestWork asks the coordinator for one job.
	//
	// Returns:
	//   - types.WorkOffer: Work=false when nothing is available; Shutdown
	//     reports that no job is in flight either.
	//   - error: Error if the coordinator could not be reached.
	RequestWork(ctx context.Context) (types.WorkOffer, error)

	// RefreshHeartbeat tells the coordinator the job is still being worked on.
	//
	// Returns:
	//   - bool: false when the job is no longer in flight (reassigned or done).
	//   - error: Error if the heartbeat could not be delivered.
	RefreshHeartbeat(ctx context.Context, id types.JobID) (bool, error)

	// ReportCompletion reports the outcome of a job.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout.
	//   - id: The job being reported.
	//   - success: true moves the job to completed, false requeues it.
	//   - info: Failure description and reporter identity.
	//
	// Returns:
	//   - bool: false when the report was stale and ignored.
	//   - error: Error if the report could not be delivered.
	ReportCompletion(ctx context.Context, id types.JobID, success bool, info types.CompletionInfo) (bool, error)
}
