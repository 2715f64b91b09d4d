// ============================================================================
// Beaver-Balancer Worker Pool - 並發任務執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 對同一個 JobSource 同時運行 N 個 Client
//
// 架構組件:
//   ┌─────────────┐
//   │ Coordinator │ ←── RequestWork / Heartbeat / Completion
//   └─────────────┘
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Client 1│ │  每個 Client 一次只執行一個 Session
//   │  │Client 2│ │
//   │  │Client 3│ │
//   │  └────────┘ │
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 建立 N 個 Client，各自擁有獨立的 worker ID
//   2. Run(ctx)  - 啟動全部 Client，直到全部結束或 ctx 取消
//   3. ctx 取消時對每個 Client 呼叫 Stop（中止執行中的 session）
//
// 並發控制:
//   - errgroup 追蹤每個 Client 的 goroutine
//   - 任一 Client 停止失敗時回傳第一個錯誤
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolRunning 表示 Pool 已在運行
	ErrPoolRunning = errors.New("worker pool already running")
	// ErrInvalidPoolSize 表示 Client 數量不合法
	ErrInvalidPoolSize = errors.New("worker pool size must be at least 1")
)

// DefaultStopTimeout ctx 取消後等待每個 Client 停止的時間
const DefaultStopTimeout = 10 * time.Second

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Client 池
type Pool struct {
	clients     []*Client     // 所有 Client
	stopTimeout time.Duration // 停止每個 Client 的等待上限
	running     bool          // 是否已在運行
	mu          sync.Mutex    // 保護 running 狀態
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
//
// 參數：
//   - source: 所有 Client 共用的 JobSource
//   - work: 實際執行任務的函式
//   - size: Client 數量
//   - config: Client 配置，WorkerID 作為前綴，每個 Client 加上序號
//
// 返回值：
//   - *Pool: Worker Pool 實例
//   - error: 參數錯誤
func NewPool(source JobSource, work WorkFunc, size int, config ClientConfig) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}

	p := &Pool{
		clients:     make([]*Client, 0, size),
		stopTimeout: DefaultStopTimeout,
	}
	for i := 0; i < size; i++ {
		cfg := config
		cfg.WorkerID = fmt.Sprintf("%s-%d", config.WorkerID, i)

		client, err := NewClient(source, work, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create client %d: %w", i, err)
		}
		p.clients = append(p.clients, client)
	}
	return p, nil
}

// Run 啟動全部 Client 並阻塞
//
// 返回條件：
//   - 全部 Client 因 coordinator 的 shutdown 訊號結束：回傳 nil
//   - ctx 取消：停止全部 Client 後回傳（停止逾時時回傳錯誤）
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPoolRunning
	}
	p.running = true
	p.mu.Unlock()

	for i, client := range p.clients {
		if err := client.Start(); err != nil {
			p.stopClients(p.clients[:i])
			return fmt.Errorf("failed to start client %d: %w", i, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range p.clients {
		g.Go(func() error {
			select {
			case <-client.Done():
				return nil
			case <-gctx.Done():
				stopCtx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
				defer cancel()
				return client.Stop(stopCtx)
			}
		})
	}

	err := g.Wait()
	stats := p.Stats()
	log.Info("Worker pool finished",
		"clients", len(p.clients),
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"aborted", stats.Aborted)
	return err
}

// stopClients 停止已啟動的 Client（啟動失敗時使用）
func (p *Pool) stopClients(clients []*Client) {
	ctx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
	defer cancel()
	for _, c := range clients {
		if err := c.Stop(ctx); err != nil {
			log.Warn("Failed to stop client", "worker", c.config.WorkerID, "error", err)
		}
	}
}

// Stats 彙總所有 Client 的統計
func (p *Pool) Stats() ClientStats {
	var total ClientStats
	for _, c := range p.clients {
		s := c.Stats()
		total.Succeeded += s.Succeeded
		total.Failed += s.Failed
		total.Aborted += s.Aborted
	}
	return total
}

// Size 返回 Client 數量
func (p *Pool) Size() int {
	return len(p.clients)
}
