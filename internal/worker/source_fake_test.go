package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// completionCall records one ReportCompletion call
type completionCall struct {
	ID      types.JobID
	Success bool
	Info    types.CompletionInfo
}

// fakeSource is an in-memory JobSource. It hands out offers from a list,
// then answers no-work with Shutdown=shutdownWhenEmpty.
type fakeSource struct {
	mu                sync.Mutex
	offers            []types.WorkOffer
	shutdownWhenEmpty bool
	heartbeatOK       bool
	completionOK      bool
	requestErr        error
	heartbeatErr      error

	requests    int
	heartbeats  map[types.JobID]int
	completions []completionCall
	reported    chan completionCall
}

func newFakeSource(offers ...types.WorkOffer) *fakeSource {
	return &fakeSource{
		offers:            offers,
		shutdownWhenEmpty: true,
		heartbeatOK:       true,
		completionOK:      true,
		heartbeats:        make(map[types.JobID]int),
		reported:          make(chan completionCall, 100),
	}
}

func offerFor(id types.JobID) types.WorkOffer {
	return types.WorkOffer{Work: true, JobID: id, ChunkSize: 10, TotalUnits: 1000}
}

func (f *fakeSource) RequestWork(ctx context.Context) (types.WorkOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requestErr != nil {
		return types.WorkOffer{}, f.requestErr
	}
	if len(f.offers) == 0 {
		return types.WorkOffer{Shutdown: f.shutdownWhenEmpty}, nil
	}
	offer := f.offers[0]
	f.offers = f.offers[1:]
	return offer, nil
}

func (f *fakeSource) RefreshHeartbeat(ctx context.Context, id types.JobID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats[id]++
	if f.heartbeatErr != nil {
		return false, f.heartbeatErr
	}
	return f.heartbeatOK, nil
}

func (f *fakeSource) ReportCompletion(ctx context.Context, id types.JobID, success bool, info types.CompletionInfo) (bool, error) {
	call := completionCall{ID: id, Success: success, Info: info}
	f.mu.Lock()
	f.completions = append(f.completions, call)
	ok := f.completionOK
	f.mu.Unlock()
	f.reported <- call
	return ok, nil
}

func (f *fakeSource) Completions() []completionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completionCall(nil), f.completions...)
}

func (f *fakeSource) Heartbeats(id types.JobID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats[id]
}

func (f *fakeSource) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeSource) SetRequestErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestErr = err
}

var errTransport = errors.New("transport down")
