package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/ChuLiYu/beaver-balancer/internal/rpc"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// GrpcJobSource is an implementation of JobSource that talks to a remote
// coordinator over gRPC.
type GrpcJobSource struct {
	client   *rpc.BalancerClient
	workerID string
}

var _ JobSource = (*GrpcJobSource)(nil)

// NewGrpcJobSource creates a new GrpcJobSource.
// conn should be an established gRPC connection.
func NewGrpcJobSource(conn grpc.ClientConnInterface) *GrpcJobSource {
	return &GrpcJobSource{
		client:   rpc.NewBalancerClient(conn),
		workerID: NewWorkerID(),
	}
}

// NewWorkerID returns a random identifier for completion reports.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// WorkerID returns the identifier generated for this source.
func (s *GrpcJobSource) WorkerID() string {
	return s.workerID
}

// RequestWork asks the remote coordinator for a job.
func (s *GrpcJobSource) RequestWork(ctx context.Context) (types.WorkOffer, error) {
	resp, err := s.client.RequestWork(ctx, &emptypb.Empty{})
	if err != nil {
		return types.WorkOffer{}, fmt.Errorf("rpc request work failed: %w", err)
	}

	offer, err := rpc.DecodeOffer(resp)
	if err != nil {
		return types.WorkOffer{}, fmt.Errorf("bad request work response: %w", err)
	}
	return offer, nil
}

// RefreshHeartbeat sends a heartbeat for a job.
func (s *GrpcJobSource) RefreshHeartbeat(ctx context.Context, id types.JobID) (bool, error) {
	resp, err := s.client.RefreshHeartbeat(ctx, rpc.EncodeJobID(id))
	if err != nil {
		return false, fmt.Errorf("rpc heartbeat failed: %w", err)
	}
	return resp.GetValue(), nil
}

// ReportCompletion reports job outcome to the remote coordinator. An empty
// WorkerID is filled in with this source's identifier.
func (s *GrpcJobSource) ReportCompletion(ctx context.Context, id types.JobID, success bool, info types.CompletionInfo) (bool, error) {
	if info.WorkerID == "" {
		info.WorkerID = s.workerID
	}

	resp, err := s.client.ReportCompletion(ctx, rpc.EncodeCompletion(id, success, info))
	if err != nil {
		return false, fmt.Errorf("rpc report completion failed: %w", err)
	}
	return resp.GetValue(), nil
}
