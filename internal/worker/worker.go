// ============================================================================
// Beaver-Balancer Simulated Work
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: A WorkFunc for demos and tests that pretends to process a chunk
//
// Simulation:
//   - Random delay in [MinDelay, MaxDelay) per job
//   - FailureRate of jobs return an error
//   - The work context is honoured, so Abort interrupts the delay
//
// Production deployments replace this with CommandWork or their own WorkFunc.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ErrSimulatedFailure is returned by SimulatedWork for the failing share of jobs.
var ErrSimulatedFailure = errors.New("simulated execution failure")

// Simulation configures SimulatedWork.
type Simulation struct {
	MinDelay    time.Duration // shortest simulated job
	MaxDelay    time.Duration // longest simulated job (exclusive)
	FailureRate float64       // share of jobs that fail, 0..1
}

// SimulatedWork returns a WorkFunc that sleeps for a random duration and
// fails a FailureRate share of jobs.
func SimulatedWork(sim Simulation) WorkFunc {
	return func(ctx context.Context, offer types.WorkOffer) error {
		delay := sim.MinDelay
		if span := sim.MaxDelay - sim.MinDelay; span > 0 {
			delay += time.Duration(rand.Int63n(int64(span)))
		}

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			// Cancelled by Abort or client shutdown
			return ctx.Err()

		case <-timer.C:
			if sim.FailureRate > 0 && rand.Float64() < sim.FailureRate {
				return ErrSimulatedFailure
			}
			return nil
		}
	}
}
