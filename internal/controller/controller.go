// ============================================================================
// Beaver-Balancer 控制器 - 任務分配協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 持有任務帳本，回應 worker 的領取、心跳與完成通知，並定期回收逾時任務
//
// 架構設計:
//   Controller 協調以下組件：
//   - Ledger: 任務分配狀態（unclaimed / in-flight / completed）
//   - Cleanup Task: 每 CleanupInterval 回收心跳逾時的任務
//   - Report Task: 定期寫出 JSON 狀態報告（可選）
//   - Metrics: Prometheus 指標（可選）
//
// 請求處理:
//   RequestWork / RefreshHeartbeat / ReportCompletion 由 gRPC server 並發呼叫，
//   所有狀態修改都經由 Ledger 的互斥鎖，Controller 本身不再另外加鎖。
//
// 過時訊息:
//   已被回收或已完成任務的心跳與完成通知回傳 false，只記錄 info 日誌。
//   worker 收到 false 代表任務已轉交他人，不應重試。
//
// 結束條件:
//   RequestWork 無任務可發且沒有執行中任務時回應 Shutdown=true；
//   所有任務完成時關閉 Done() channel。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/beaver-balancer/internal/ledger"
	"github.com/ChuLiYu/beaver-balancer/internal/metrics"
	"github.com/ChuLiYu/beaver-balancer/internal/periodic"
	"github.com/ChuLiYu/beaver-balancer/internal/snapshot"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrInvalidPingTimeout 心跳逾時門檻必須為正數
	ErrInvalidPingTimeout = errors.New("controller: ping timeout must be positive")
	// ErrInvalidCleanupInterval 清理週期必須為正數
	ErrInvalidCleanupInterval = errors.New("controller: cleanup interval must be positive")
	// ErrInvalidStatusInterval 設定報告路徑時，報告週期必須為正數
	ErrInvalidStatusInterval = errors.New("controller: status interval must be positive")
	// ErrAlreadyStarted 重複啟動
	ErrAlreadyStarted = errors.New("controller: already started")
	// ErrStopped Controller 已停止
	ErrStopped = errors.New("controller: stopped")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Controller 配置
type Config struct {
	TotalUnits      int64         // 總工作量
	ChunkSize       int64         // 每個任務的單位數
	PingTimeout     time.Duration // 心跳逾時門檻
	CleanupInterval time.Duration // 回收掃描週期
	StatusPath      string        // 狀態報告路徑（空字串表示不寫報告）
	StatusInterval  time.Duration // 狀態報告週期
}

// Validate 檢查配置
func (c Config) Validate() error {
	if c.TotalUnits < 1 {
		return fmt.Errorf("%w: got %d", ledger.ErrInvalidTotalUnits, c.TotalUnits)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: got %d", ledger.ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidPingTimeout, c.PingTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidCleanupInterval, c.CleanupInterval)
	}
	if c.StatusPath != "" && c.StatusInterval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidStatusInterval, c.StatusInterval)
	}
	return nil
}

// Option 設定 Controller 的選項
type Option func(*Controller)

// WithMetrics 啟用 Prometheus 指標
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock 替換時間來源（測試用），同時套用到帳本
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller 任務分配協調器
type Controller struct {
	config  Config
	ledger  *ledger.Ledger
	cleanup *periodic.Task     // 逾時回收
	report  *periodic.Task     // 狀態報告（可為 nil）
	reports *snapshot.Manager  // 狀態報告寫入（可為 nil）
	metrics *metrics.Collector // 可為 nil
	now     func() time.Time

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time

	reclaimed atomic.Int64  // 累計回收次數
	doneCh    chan struct{} // 全部完成時關閉
	doneOnce  sync.Once
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewController 建立新的 Controller 實例
//
// 參數：
//   - config: Controller 配置，不合法時立即回傳錯誤
//   - opts: WithMetrics / WithClock
//
// 返回值：
//   - *Controller: 尚未啟動的 Controller
//   - error: 配置錯誤
func NewController(config Config, opts ...Option) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		config: config,
		now:    time.Now,
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// 1. 建立帳本
	l, err := ledger.New(config.TotalUnits, config.ChunkSize, ledger.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	c.ledger = l

	// 2. 建立回收任務（不攔截 panic）
	c.cleanup, err = periodic.New(c.reclaimExpired, config.CleanupInterval,
		periodic.WithInitialDelay(config.CleanupInterval),
		periodic.WithName("cleanup"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cleanup task: %w", err)
	}

	// 3. 建立狀態報告任務
	if config.StatusPath != "" {
		c.reports = snapshot.NewManager(config.StatusPath)
		c.report, err = periodic.New(c.writeReport, config.StatusInterval,
			periodic.WithName("status-report"))
		if err != nil {
			return nil, fmt.Errorf("failed to create status report task: %w", err)
		}
	}

	if c.metrics != nil {
		c.metrics.UpdateLedgerStats(c.ledger.Status())
	}

	log.Info("Controller created",
		"total_units", config.TotalUnits,
		"chunk_size", config.ChunkSize,
		"packets", c.ledger.PacketCount(),
		"ping_timeout", config.PingTimeout)

	return c, nil
}

// Start 啟動背景任務
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.startTime = c.now()

	if err := c.cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start cleanup task: %w", err)
	}
	if c.report != nil {
		if err := c.report.Start(); err != nil {
			return fmt.Errorf("failed to start status report task: %w", err)
		}
	}

	log.Info("Controller started", "cleanup_interval", c.config.CleanupInterval)
	return nil
}

// Stop 停止背景任務並寫出最後一次狀態報告
//
// 返回值：
//   - error: ctx 先結束時回傳 ctx.Err()
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		log.Info("Controller already stopped")
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	log.Info("Stopping controller...")

	// 1. 停止週期任務
	errs := []error{c.cleanup.Stop(ctx)}
	if c.report != nil {
		errs = append(errs, c.report.Stop(ctx))
	}

	// 2. 最後一次報告
	if c.reports != nil {
		if err := c.writeReport(); err != nil {
			log.Error("Failed to write final status report", "error", err)
		}
	}

	log.Info("Controller stopped", "status", c.ledger.Status().String())
	return errors.Join(errs...)
}

// RequestWork 分派一個待領取任務
//
// 返回值：
//   - types.WorkOffer: 有任務時 Work=true；否則 Shutdown 表示是否已無執行中任務
func (c *Controller) RequestWork() types.WorkOffer {
	// 分配與 shutdown 判斷必須在同一次持鎖內完成
	id, status, ok := c.ledger.TryAllocate()
	if !ok {
		return types.WorkOffer{Shutdown: status.InFlight == 0}
	}

	if c.metrics != nil {
		c.metrics.RecordAllocate()
	}
	offer := types.WorkOffer{
		Work:       true,
		JobID:      id,
		ChunkSize:  c.config.ChunkSize,
		TotalUnits: c.config.TotalUnits,
	}
	log.Info("Job allocated", "jobID", id, "attempt", c.ledger.Attempts(id))
	c.logStatus()
	return offer
}

// RefreshHeartbeat 更新任務心跳
//
// 返回值：
//   - bool: 任務不在執行中時為 false
func (c *Controller) RefreshHeartbeat(id types.JobID) bool {
	ok := c.ledger.Heartbeat(id)
	if c.metrics != nil {
		c.metrics.RecordHeartbeat(ok)
	}
	if !ok {
		log.Info("Stale heartbeat ignored", "jobID", id)
	}
	return ok
}

// ReportCompletion 處理完成通知
//
// 參數：
//   - id: 任務編號
//   - success: 是否成功
//   - info: 失敗原因與回報者
//
// 返回值：
//   - bool: 任務不在執行中時為 false，狀態不變
func (c *Controller) ReportCompletion(id types.JobID, success bool, info types.CompletionInfo) bool {
	ok := c.ledger.Complete(id, success, info.Error)
	if c.metrics != nil {
		c.metrics.RecordCompletion(success, ok)
	}
	if !ok {
		log.Info("Stale completion ignored", "jobID", id, "success", success, "worker", info.WorkerID)
		return false
	}

	if success {
		log.Info("Job completed", "jobID", id, "worker", info.WorkerID)
	}
	c.logStatus()

	if success && c.ledger.Done() {
		c.doneOnce.Do(func() {
			log.Info("All jobs completed", "packets", c.ledger.PacketCount())
			close(c.doneCh)
		})
	}
	return true
}

// reclaimExpired 回收心跳逾時的任務（cleanup task 的 action）
func (c *Controller) reclaimExpired() error {
	dead := c.ledger.ReclaimExpired(c.config.PingTimeout, c.now())
	if len(dead) == 0 {
		return nil
	}

	c.reclaimed.Add(int64(len(dead)))
	if c.metrics != nil {
		c.metrics.RecordReclaimed(len(dead))
	}
	log.Info("Reclaimed expired jobs", "count", len(dead), "jobs", dead)
	c.logStatus()
	return nil
}

// writeReport 寫出狀態報告
func (c *Controller) writeReport() error {
	c.mu.Lock()
	started := c.startTime
	c.mu.Unlock()

	report := snapshot.Report{
		StartedAt:       started,
		PingTimeout:     c.config.PingTimeout,
		CleanupInterval: c.config.CleanupInterval,
		Reclaimed:       int(c.reclaimed.Load()),
		Ledger:          c.ledger.Snapshot(c.now()),
	}
	if err := c.reports.Write(report); err != nil {
		return fmt.Errorf("failed to write status report: %w", err)
	}
	return nil
}

// logStatus 記錄三個集合的大小並更新指標
func (c *Controller) logStatus() {
	status := c.ledger.Status()
	if c.metrics != nil {
		c.metrics.UpdateLedgerStats(status)
	}
	log.Info("Ledger status", "status", status.String())
}

// ============================================================================
// 查詢方法
// ============================================================================

// Status 取得帳本狀態
func (c *Controller) Status() types.LedgerStatus {
	return c.ledger.Status()
}

// Snapshot 取得帳本快照
func (c *Controller) Snapshot() types.LedgerSnapshot {
	return c.ledger.Snapshot(c.now())
}

// Reclaimed 累計回收次數
func (c *Controller) Reclaimed() int {
	return int(c.reclaimed.Load())
}

// Done 所有任務完成時關閉
func (c *Controller) Done() <-chan struct{} {
	return c.doneCh
}

// Config 取得配置
func (c *Controller) Config() Config {
	return c.config
}

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
