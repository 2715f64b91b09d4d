package controller

import (
	"context"

	"github.com/ChuLiYu/beaver-balancer/internal/worker"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ============================================================================
// JobSource Interface Implementation (standalone mode)
// ============================================================================

// localSource adapts the Controller to worker.JobSource so in-process workers
// can run against it without a network hop.
type localSource struct {
	c *Controller
}

var _ worker.JobSource = (*localSource)(nil)

// Source returns a worker.JobSource backed directly by this Controller.
func (c *Controller) Source() worker.JobSource {
	return &localSource{c: c}
}

// RequestWork implements worker.JobSource.RequestWork
func (s *localSource) RequestWork(ctx context.Context) (types.WorkOffer, error) {
	if err := s.check(ctx); err != nil {
		return types.WorkOffer{}, err
	}
	return s.c.RequestWork(), nil
}

// RefreshHeartbeat implements worker.JobSource.RefreshHeartbeat
func (s *localSource) RefreshHeartbeat(ctx context.Context, id types.JobID) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.c.RefreshHeartbeat(id), nil
}

// ReportCompletion implements worker.JobSource.ReportCompletion
func (s *localSource) ReportCompletion(ctx context.Context, id types.JobID, success bool, info types.CompletionInfo) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.c.ReportCompletion(id, success, info), nil
}

func (s *localSource) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.c.isStopped() {
		return ErrStopped
	}
	return nil
}
