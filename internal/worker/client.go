// ============================================================================
// Beaver-Balancer Worker Client - Poll Loop
// ============================================================================
//
// Package: internal/worker
// File: client.go
// Purpose: Repeatedly asks the coordinator for work and runs one Session per
//          offer until the coordinator signals shutdown or Stop is called.
//
// Loop (one periodic.Task iteration):
//   1. RequestWork
//   2. Work=true   → run a Session synchronously, then go back to 1
//   3. Work=false  → Shutdown=true cancels the loop; otherwise wait a period
//
// Transport errors are returned to the periodic task, which logs them; the
// next iteration simply tries again.
//
// Stop aborts the in-flight session (reporting "aborted manually") before
// cancelling the loop, so the coordinator can hand the job out again
// without waiting for the heartbeat timeout.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-balancer/internal/periodic"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ErrNilWork is returned when no WorkFunc is given.
var ErrNilWork = errors.New("worker: work func is nil")

// ClientConfig configures a Client.
type ClientConfig struct {
	WorkerID     string        // reported with every completion
	PollInterval time.Duration // wait between empty RequestWork answers
	PingInterval time.Duration // heartbeat period of each session
	RPCTimeout   time.Duration // per-call timeout towards the coordinator
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	return c
}

// ClientStats counts finished sessions by terminal state.
type ClientStats struct {
	Succeeded int
	Failed    int
	Aborted   int
}

// Total returns the number of finished sessions.
func (s ClientStats) Total() int {
	return s.Succeeded + s.Failed + s.Aborted
}

// Client runs sessions for offers pulled from a JobSource.
type Client struct {
	source JobSource
	work   WorkFunc
	config ClientConfig
	poll   *periodic.Task

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *Session
	stopping bool
	stats    ClientStats
}

// NewClient creates a stopped Client.
func NewClient(source JobSource, work WorkFunc, config ClientConfig) (*Client, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if work == nil {
		return nil, ErrNilWork
	}
	if config.PingInterval <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPingInterval, config.PingInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		source: source,
		work:   work,
		config: config.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
	}

	poll, err := periodic.New(c.pollOnce, config.PollInterval, periodic.WithName("poll-"+config.WorkerID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}
	c.poll = poll
	return c, nil
}

// Start launches the poll loop.
func (c *Client) Start() error {
	log.Info("Worker client started", "worker", c.config.WorkerID)
	return c.poll.Start()
}

// Stop aborts the current session and waits for the poll loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	current := c.current
	c.mu.Unlock()

	c.poll.Cancel()
	if current != nil {
		current.Abort()
	}
	c.cancel()

	return c.poll.Stop(ctx)
}

// Done is closed once the poll loop has exited, either after Stop or after
// the coordinator signalled shutdown.
func (c *Client) Done() <-chan struct{} {
	return c.poll.Done()
}

// Stats returns a copy of the session counters.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// pollOnce drains offers until the coordinator has nothing left to give.
func (c *Client) pollOnce() error {
	for {
		if c.isStopping() {
			return nil
		}

		offer, err := c.requestWork()
		if err != nil {
			return err
		}
		if !offer.Work {
			if offer.Shutdown {
				log.Info("Coordinator signalled shutdown", "worker", c.config.WorkerID)
				c.poll.Cancel()
			}
			return nil
		}

		if err := c.runSession(offer); err != nil {
			return err
		}
	}
}

func (c *Client) requestWork() (types.WorkOffer, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.RPCTimeout)
	defer cancel()

	offer, err := c.source.RequestWork(ctx)
	if err != nil {
		return types.WorkOffer{}, fmt.Errorf("request work: %w", err)
	}
	return offer, nil
}

func (c *Client) runSession(offer types.WorkOffer) error {
	session, err := NewSession(c.source, offer, c.config.PingInterval,
		WithWorkerID(c.config.WorkerID),
		WithRPCTimeout(c.config.RPCTimeout))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		session.Abort()
		c.record(types.SessionAborted)
		return nil
	}
	c.current = session
	c.mu.Unlock()

	state := session.Run(c.ctx, c.work)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.record(state)
	return nil
}

func (c *Client) record(state types.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case types.SessionSucceeded:
		c.stats.Succeeded++
	case types.SessionFailed:
		c.stats.Failed++
	case types.SessionAborted:
		c.stats.Aborted++
	}
}

func (c *Client) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}
