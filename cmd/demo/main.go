// Command demo runs a coordinator with three in-process workers, one of
// which "crashes" by going silent after taking a job. The coordinator
// reclaims the silent worker's job after the ping timeout and the remaining
// workers finish the range.
//
//	go run ./cmd/demo
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/internal/worker"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// silentSource forwards requests until it has handed out one job, then
// drops every heartbeat and completion, as a crashed worker would.
type silentSource struct {
	worker.JobSource
	taken atomic.Bool
}

func (s *silentSource) RequestWork(ctx context.Context) (types.WorkOffer, error) {
	if s.taken.Load() {
		return types.WorkOffer{}, nil
	}
	offer, err := s.JobSource.RequestWork(ctx)
	if err == nil && offer.Work {
		s.taken.Store(true)
		fmt.Printf("💥 worker-crash took job %d and went silent\n", offer.JobID)
	}
	return offer, err
}

func (s *silentSource) RefreshHeartbeat(context.Context, types.JobID) (bool, error) {
	return false, context.Canceled
}

func (s *silentSource) ReportCompletion(context.Context, types.JobID, bool, types.CompletionInfo) (bool, error) {
	return false, context.Canceled
}

func main() {
	ctrl, err := controller.NewController(controller.Config{
		TotalUnits:      20_000,
		ChunkSize:       1_000,
		PingTimeout:     2 * time.Second,
		CleanupInterval: 500 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}

	cfg := worker.ClientConfig{
		PollInterval: 200 * time.Millisecond,
		PingInterval: 500 * time.Millisecond,
	}
	work := worker.SimulatedWork(worker.Simulation{
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    400 * time.Millisecond,
		FailureRate: 0.1,
	})
	hang := func(ctx context.Context, _ types.WorkOffer) error {
		<-ctx.Done()
		return ctx.Err()
	}

	crashCfg := cfg
	crashCfg.WorkerID = "worker-crash"
	crashed, err := worker.NewClient(&silentSource{JobSource: ctrl.Source()}, hang, crashCfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	if err := crashed.Start(); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	// Let the silent worker grab its job first
	time.Sleep(100 * time.Millisecond)

	cfg.WorkerID = "worker"
	pool, err := worker.NewPool(ctrl.Source(), work, 2, cfg)
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := time.Now()

	go func() {
		if err := pool.Run(ctx); err != nil {
			log.Printf("Worker pool error: %v", err)
		}
	}()

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		fmt.Println("❌ Timed out before every job completed")
		os.Exit(1)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = crashed.Stop(stopCtx)
	_ = ctrl.Stop(stopCtx)

	stats := pool.Stats()
	fmt.Println("═══════════════════════════════════════════════")
	fmt.Printf("✅ All %d jobs completed in %s\n", ctrl.Snapshot().PacketCount, time.Since(start).Round(time.Millisecond))
	fmt.Printf("   ♻️  Reclaimed after timeout: %d\n", ctrl.Reclaimed())
	fmt.Printf("   Sessions: %d succeeded, %d failed and retried\n", stats.Succeeded, stats.Failed)
	fmt.Println("═══════════════════════════════════════════════")
}
