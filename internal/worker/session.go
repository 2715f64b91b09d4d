// ============================================================================
// Beaver-Balancer Worker Session - 單一任務的執行生命週期
// ============================================================================
//
// Package: internal/worker
// 文件: session.go
// 功能: 執行一個已分派的任務，期間定期送出心跳，結束時回報一次結果
//
// 狀態轉換:
//   Starting ──Run()──→ Running ──work 成功──→ Succeeded
//                         │      ──work 失敗/panic──→ Failed
//                         └──Abort()──→ Aborted
//   Starting ──Abort()──→ Aborted（work 不會執行）
//
// 心跳:
//   週期與初始延遲皆為 pingInterval，使用 periodic.WithRecover()，
//   心跳失敗只記錄日誌，不影響 work。
//
// 回報規則:
//   - 每個 session 恰好回報一次（reportOnce 保證）
//   - 回報前先停止心跳
//   - Abort 與自然結束競爭時，先取得 reportOnce 者決定結果
//   - coordinator 回傳 false 代表任務已轉交他人，只記錄日誌不重試
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/beaver-balancer/internal/periodic"
	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

var log = slog.Default()

// AbortReason 手動中止時回報的失敗原因
const AbortReason = "aborted manually"

// DefaultRPCTimeout 心跳與回報呼叫的預設逾時
const DefaultRPCTimeout = 5 * time.Second

var (
	// ErrNilSource 未提供 JobSource
	ErrNilSource = errors.New("worker: job source is nil")
	// ErrNoWork offer 不含任務
	ErrNoWork = errors.New("worker: offer carries no work")
	// ErrInvalidPingInterval 心跳週期必須為正數
	ErrInvalidPingInterval = errors.New("worker: ping interval must be positive")
	// ErrWorkPanicked work 發生 panic
	ErrWorkPanicked = errors.New("worker: work panicked")
)

// WorkFunc 實際執行任務的函式，ctx 在 Abort 時被取消
type WorkFunc func(ctx context.Context, offer types.WorkOffer) error

// SessionOption 設定 Session 的選項
type SessionOption func(*Session)

// WithWorkerID 回報時附帶的 worker 識別碼
func WithWorkerID(id string) SessionOption {
	return func(s *Session) { s.workerID = id }
}

// WithRPCTimeout 心跳與回報呼叫的逾時
func WithRPCTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.rpcTimeout = d
		}
	}
}

// Session 單一任務的執行單元
type Session struct {
	source       JobSource
	offer        types.WorkOffer
	pingInterval time.Duration
	workerID     string
	rpcTimeout   time.Duration

	mu        sync.Mutex
	state     types.SessionState
	aborting  bool
	heartbeat *periodic.Task
	cancel    context.CancelFunc // 取消 work 的 context

	reportOnce sync.Once
	beats      atomic.Int64 // 被接受的心跳次數
}

// NewSession 建立處於 Starting 狀態的 session
//
// 參數：
//   - source: coordinator 介面
//   - offer: RequestWork 的回應，必須 Work=true
//   - pingInterval: 心跳週期
//
// 返回值：
//   - *Session: session 實例
//   - error: 參數錯誤
func NewSession(source JobSource, offer types.WorkOffer, pingInterval time.Duration, opts ...SessionOption) (*Session, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if !offer.Work {
		return nil, ErrNoWork
	}
	if pingInterval <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPingInterval, pingInterval)
	}

	s := &Session{
		source:       source,
		offer:        offer,
		pingInterval: pingInterval,
		rpcTimeout:   DefaultRPCTimeout,
		state:        types.SessionStarting,
	}
	for _, opt := range opts {
		opt(s)
	}

	hb, err := periodic.New(s.beat, pingInterval,
		periodic.WithInitialDelay(pingInterval),
		periodic.WithRecover(),
		periodic.WithName(fmt.Sprintf("heartbeat-%d", offer.JobID)))
	if err != nil {
		return nil, err
	}
	s.heartbeat = hb
	return s, nil
}

// Run 啟動心跳並同步執行 work，回報結果後返回終止狀態
//
// 已被 Abort 的 session 不會執行 work，直接回傳 Aborted
func (s *Session) Run(ctx context.Context, work WorkFunc) types.SessionState {
	s.mu.Lock()
	if s.aborting {
		s.mu.Unlock()
		return types.SessionAborted
	}
	if s.state != types.SessionStarting {
		state := s.state
		s.mu.Unlock()
		return state
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	if err := s.heartbeat.Start(); err != nil {
		log.Warn("Failed to start heartbeat", "jobID", s.offer.JobID, "error", err)
	}
	s.state = types.SessionRunning
	s.mu.Unlock()

	log.Info("Session started", "offer", s.offer.String())

	err := runWork(workCtx, work, s.offer)
	s.stopHeartbeat()

	if err == nil {
		s.finish(types.SessionSucceeded, true, "")
	} else {
		s.finish(types.SessionFailed, false, err.Error())
	}
	return s.State()
}

// Abort 停止心跳、取消 work，並回報失敗（僅第一次呼叫生效）
func (s *Session) Abort() {
	s.mu.Lock()
	s.aborting = true
	cancel := s.cancel
	s.mu.Unlock()

	s.stopHeartbeat()
	if cancel != nil {
		cancel()
	}
	s.finish(types.SessionAborted, false, AbortReason)
}

// State 目前狀態
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JobID 任務編號
func (s *Session) JobID() types.JobID {
	return s.offer.JobID
}

// Heartbeats 被 coordinator 接受的心跳次數
func (s *Session) Heartbeats() int {
	return int(s.beats.Load())
}

// finish 設定終止狀態並回報，整個 session 只執行一次
//
// 已進入 Abort 時，無論 work 的結果為何都以中止回報
func (s *Session) finish(state types.SessionState, success bool, reason string) {
	s.reportOnce.Do(func() {
		s.mu.Lock()
		if s.aborting {
			state, success, reason = types.SessionAborted, false, AbortReason
		}
		s.state = state
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
		defer cancel()

		info := types.CompletionInfo{Error: reason, WorkerID: s.workerID}
		ok, err := s.source.ReportCompletion(ctx, s.offer.JobID, success, info)
		switch {
		case err != nil:
			log.Error("Failed to report completion", "jobID", s.offer.JobID, "success", success, "error", err)
		case !ok:
			log.Info("Completion rejected, job already reassigned", "jobID", s.offer.JobID)
		default:
			log.Info("Session finished", "jobID", s.offer.JobID, "state", state, "reason", reason)
		}
	})
}

// beat 心跳任務的 action
func (s *Session) beat() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
	defer cancel()

	ok, err := s.source.RefreshHeartbeat(ctx, s.offer.JobID)
	if err != nil {
		return fmt.Errorf("heartbeat for job %d: %w", s.offer.JobID, err)
	}
	if !ok {
		log.Info("Heartbeat rejected, job no longer in flight", "jobID", s.offer.JobID)
		return nil
	}
	s.beats.Add(1)
	return nil
}

func (s *Session) stopHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
	defer cancel()
	if err := s.heartbeat.Stop(ctx); err != nil {
		log.Warn("Heartbeat did not stop in time", "jobID", s.offer.JobID, "error", err)
	}
}

// runWork 執行 work，panic 轉為 error
func runWork(ctx context.Context, work WorkFunc, offer types.WorkOffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
	}()
	return work(ctx, offer)
}
