// ============================================================================
// Beaver-Balancer 週期任務 - 可取消的重複執行單元
// ============================================================================
//
// Package: internal/periodic
// 文件: periodic.go
// 功能: 以獨立 goroutine 週期性執行一個動作，是 coordinator 清理掃描
//       與 worker 心跳的共同執行基礎
//
// 執行流程:
//   New()   → 建立任務，處於停止狀態，不會執行任何動作
//   Start() → 啟動 goroutine：
//               1. 若設定 initialDelay，先等待（可被取消）
//               2. 迴圈：檢查取消 → 執行 action → 等待 period（可被取消）
//   Stop()  → 發送取消訊號，等待 goroutine 退出或 ctx 結束
//
// 取消語意:
//   - 取消只影響之後的執行，正在執行中的 action 會跑完（不搶佔）
//   - 觀察到取消後絕不會再呼叫 action
//   - Stop(ctx) 因 ctx 逾時返回時，迴圈可能仍在完成當前 action
//
// 錯誤處理:
//   - action 回傳的 error 只記錄日誌，不終止迴圈
//   - panic 預設不攔截；WithRecover() 時攔截並記錄（心跳用途）
//
// ============================================================================

package periodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var log = slog.Default()

var (
	// ErrInvalidPeriod 週期必須為正數
	ErrInvalidPeriod = errors.New("periodic: period must be positive")
	// ErrNilAction 未提供 action
	ErrNilAction = errors.New("periodic: action is nil")
	// ErrAlreadyStarted 重複啟動
	ErrAlreadyStarted = errors.New("periodic: task already started")
)

// Action 每個週期執行一次的動作
type Action func() error

// Option 設定 Task 的選項
type Option func(*Task)

// WithInitialDelay 第一次執行前的等待時間
func WithInitialDelay(d time.Duration) Option {
	return func(t *Task) { t.initialDelay = d }
}

// WithName 日誌中使用的名稱
func WithName(name string) Option {
	return func(t *Task) { t.name = name }
}

// WithRecover 攔截 action 的 panic，記錄後繼續下一輪
func WithRecover() Option {
	return func(t *Task) { t.recoverPanics = true }
}

// Task 週期任務
type Task struct {
	action        Action
	period        time.Duration
	initialDelay  time.Duration
	name          string
	recoverPanics bool

	mu        sync.Mutex
	started   bool
	cancelled bool
	stopCh    chan struct{} // 取消訊號
	doneCh    chan struct{} // 迴圈已退出
	runs      int           // action 執行次數
}

// New 建立處於停止狀態的週期任務
//
// 參數：
//   - action: 每輪執行的動作
//   - period: 兩次執行之間的等待時間，必須 > 0
//   - opts: WithInitialDelay / WithName / WithRecover
func New(action Action, period time.Duration, opts ...Option) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPeriod, period)
	}

	t := &Task{
		action: action,
		period: period,
		name:   "periodic",
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.initialDelay < 0 {
		t.initialDelay = 0
	}
	return t, nil
}

// Start 啟動背景 goroutine
//
// 已被取消的任務呼叫 Start 不會執行任何動作
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true

	if t.cancelled {
		// Stop 早於 Start：直接標記為已結束
		close(t.doneCh)
		return nil
	}

	go t.run()
	return nil
}

// Cancel 發送取消訊號但不等待，可在 action 內部呼叫
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.stopCh)
}

// Stop 取消任務並等待迴圈退出
//
// 返回值：
//   - error: ctx 先結束時回傳 ctx.Err()，此時迴圈不保證已退出
func (t *Task) Stop(ctx context.Context) error {
	t.Cancel()

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		log.Warn("Periodic task stop timed out", "task", t.name)
		return ctx.Err()
	}
}

// Done 迴圈退出後關閉；未啟動的任務永不關閉
func (t *Task) Done() <-chan struct{} {
	return t.doneCh
}

// Runs 回傳 action 已執行的次數
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func (t *Task) run() {
	defer close(t.doneCh)

	if t.initialDelay > 0 {
		timer := time.NewTimer(t.initialDelay)
		select {
		case <-t.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.invoke()

		wait := time.NewTimer(t.period)
		select {
		case <-t.stopCh:
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

// invoke 執行一次 action
func (t *Task) invoke() {
	if t.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Periodic action panicked", "task", t.name, "panic", r)
			}
		}()
	}

	t.mu.Lock()
	t.runs++
	t.mu.Unlock()

	if err := t.action(); err != nil {
		log.Warn("Periodic action failed", "task", t.name, "error", err)
	}
}
