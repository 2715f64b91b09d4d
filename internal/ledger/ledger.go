// ============================================================================
// Beaver-Balancer 任務帳本 - 任務分配狀態機實現
// ============================================================================
//
// Package: internal/ledger
// 文件: ledger.go
// 功能: 管理所有區塊任務的分配狀態與心跳存活時間
//
// 設計理念:
//   總工作量 totalUnits 依 chunkSize 切成 packetCount 個任務，任務編號
//   0..packetCount-1。帳本以三個互斥集合追蹤每個任務：
//   1. unclaimed - 待領取（queue 保持 FIFO，set 提供 O(1) 查詢）
//   2. inFlight  - 執行中，map 的值即為最後心跳時間
//   3. completed - 已完成（終止狀態）
//
// 任務狀態轉換 (State Machine):
//   Unclaimed (待領取)
//      ↓ Allocate()              記錄心跳時間
//   InFlight (執行中) ──Heartbeat()──→ 更新心跳時間
//      ↓ Complete(success=true)
//   Completed (已完成)
//
//   InFlight → Unclaimed: Complete(success=false) 或 ReclaimExpired() 超時回收
//
// 不變量（任何觀測點皆成立）:
//   - 三個集合兩兩互斥，聯集恰為 {0..packetCount-1}
//   - 只有 inFlight 中的任務有心跳時間（以 map 結構直接保證）
//   - 已完成的任務不會再回到其他集合
//
// 分配順序:
//   初始化時依編號遞增放入 queue；失敗或被回收的任務加到 queue 尾端。
//   呼叫端不應依賴特定順序，但順序是確定的，方便測試。
//
// 並發安全:
//   - 單一 sync.Mutex 保護全部資料結構
//   - 所有操作皆為記憶體內的短操作，不做 I/O，粗粒度鎖即可
//
// ============================================================================

package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 總工作量必須 >= 1
	ErrInvalidTotalUnits = errors.New("ledger: total units must be at least 1")
	// 區塊大小必須 >= 1
	ErrInvalidChunkSize = errors.New("ledger: chunk size must be at least 1")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Option 設定 Ledger 的選項
type Option func(*Ledger)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger 任務帳本
type Ledger struct {
	mu          sync.Mutex
	totalUnits  int64
	chunkSize   int64
	packetCount int

	queue     []types.JobID             // 待領取佇列（FIFO）
	unclaimed map[types.JobID]struct{}  // 待領取集合
	inFlight  map[types.JobID]time.Time // 執行中任務 → 最後心跳時間
	completed map[types.JobID]struct{}  // 已完成集合
	attempts  map[types.JobID]int       // 每個任務被分派的次數

	now func() time.Time
}

// ============================================================================
// 核心方法
// ============================================================================

// PacketCount 計算任務數量 ceil(totalUnits / chunkSize)
func PacketCount(totalUnits, chunkSize int64) int {
	if totalUnits <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalUnits + chunkSize - 1) / chunkSize)
}

// New 建立新的任務帳本，所有任務初始皆為待領取
//
// 參數說明：
//   - totalUnits: 總工作量（>= 1）
//   - chunkSize: 每個任務涵蓋的單位數（>= 1）
//
// 錯誤處理：
//   - ErrInvalidTotalUnits / ErrInvalidChunkSize: 參數不合法，立即失敗
//
// 使用範例：
//
//	l, err := ledger.New(2500, 1000) // 3 個任務：0, 1, 2
//	id, ok := l.Allocate()
func New(totalUnits, chunkSize int64, opts ...Option) (*Ledger, error) {
	if totalUnits < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTotalUnits, totalUnits)
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}

	n := PacketCount(totalUnits, chunkSize)
	l := &Ledger{
		totalUnits:  totalUnits,
		chunkSize:   chunkSize,
		packetCount: n,
		queue:       make([]types.JobID, 0, n),
		unclaimed:   make(map[types.JobID]struct{}, n),
		inFlight:    make(map[types.JobID]time.Time),
		completed:   make(map[types.JobID]struct{}),
		attempts:    make(map[types.JobID]int),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	for i := 0; i < n; i++ {
		id := types.JobID(i)
		l.queue = append(l.queue, id)
		l.unclaimed[id] = struct{}{}
	}

	return l, nil
}

// Allocate 取出一個待領取任務並標記為執行中
//
// 返回值：
//   - types.JobID: 分配到的任務
//   - bool: 沒有待領取任務時為 false
//
// 併發安全：使用互斥鎖保護
func (l *Ledger) Allocate() (types.JobID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocateLocked()
}

// TryAllocate 與 Allocate 相同，但在同一次持鎖內一併回傳分配後的狀態
//
// 返回值：
//   - types.JobID: 分配到的任務
//   - types.LedgerStatus: 本次操作完成時的集合大小
//   - bool: 沒有待領取任務時為 false
//
// 沒有任務可分配時，status.InFlight == 0 代表所有任務都已完成且不會再出現
func (l *Ledger) TryAllocate() (types.JobID, types.LedgerStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.allocateLocked()
	return id, l.statusLocked(), ok
}

// allocateLocked 呼叫端需持有鎖
func (l *Ledger) allocateLocked() (types.JobID, bool) {
	if len(l.queue) == 0 {
		return 0, false
	}

	id := l.queue[0]
	l.queue = l.queue[1:]
	delete(l.unclaimed, id)

	l.inFlight[id] = l.now()
	l.attempts[id]++

	return id, true
}

// Heartbeat 更新執行中任務的心跳時間
//
// 返回值：
//   - bool: 任務不在執行中（過時、重複或未知）時為 false，且不做任何修改
func (l *Ledger) Heartbeat(id types.JobID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inFlight[id]; !ok {
		return false
	}
	l.inFlight[id] = l.now()
	return true
}

// Complete 結束執行中任務
//
// 參數說明：
//   - id: 任務編號
//   - success: true 移至已完成；false 放回待領取佇列尾端
//   - reason: 失敗原因，僅用於日誌
//
// 返回值：
//   - bool: 任務不在執行中時為 false，且不做任何修改
//
// 併發安全：使用互斥鎖保護，與 ReclaimExpired 競爭時先取得鎖者生效
func (l *Ledger) Complete(id types.JobID, success bool, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inFlight[id]; !ok {
		return false
	}
	delete(l.inFlight, id)

	if success {
		l.completed[id] = struct{}{}
		return true
	}

	if reason == "" {
		reason = "unspecified"
	}
	log.Info("Job failed, returned to queue", "jobID", id, "reason", reason)
	l.requeueLocked(id)
	return true
}

// ReclaimExpired 回收心跳逾時的執行中任務
//
// 參數說明：
//   - timeout: 存活門檻，now - 最後心跳 > timeout 即視為逾時
//   - now: 比較基準時間
//
// 返回值：
//   - []types.JobID: 被回收的任務（依編號排序），長度即回收數量
func (l *Ledger) ReclaimExpired(timeout time.Duration, now time.Time) []types.JobID {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dead []types.JobID
	for id, stamp := range l.inFlight {
		if now.Sub(stamp) > timeout {
			dead = append(dead, id)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i] < dead[j] })

	for _, id := range dead {
		delete(l.inFlight, id)
		l.requeueLocked(id)
	}
	return dead
}

// requeueLocked 放回待領取佇列，呼叫端需持有鎖
func (l *Ledger) requeueLocked(id types.JobID) {
	if _, ok := l.unclaimed[id]; ok {
		return
	}
	l.unclaimed[id] = struct{}{}
	l.queue = append(l.queue, id)
}

// ============================================================================
// 查詢方法
// ============================================================================

// Status 取得各集合大小
//
// 併發安全：使用互斥鎖保護
func (l *Ledger) Status() types.LedgerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Ledger) statusLocked() types.LedgerStatus {
	return types.LedgerStatus{
		Unclaimed: len(l.unclaimed),
		InFlight:  len(l.inFlight),
		Completed: len(l.completed),
	}
}

// Done 是否所有任務皆已完成
func (l *Ledger) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed) == l.packetCount
}

// JobStatus 查詢單一任務目前所在的集合
func (l *Ledger) JobStatus(id types.JobID) (types.JobStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case hasKey(l.unclaimed, id):
		return types.StatusUnclaimed, true
	case hasTime(l.inFlight, id):
		return types.StatusInFlight, true
	case hasKey(l.completed, id):
		return types.StatusCompleted, true
	}
	return "", false
}

// Attempts 任務被分派的次數
func (l *Ledger) Attempts(id types.JobID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[id]
}

// PacketCount 任務總數
func (l *Ledger) PacketCount() int { return l.packetCount }

// TotalUnits 總工作量
func (l *Ledger) TotalUnits() int64 { return l.totalUnits }

// ChunkSize 區塊大小
func (l *Ledger) ChunkSize() int64 { return l.chunkSize }

// Snapshot 產生觀測用快照，執行中任務依編號排序
func (l *Ledger) Snapshot(now time.Time) types.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	inFlight := make([]types.InFlightInfo, 0, len(l.inFlight))
	for id, stamp := range l.inFlight {
		inFlight = append(inFlight, types.InFlightInfo{
			JobID:         id,
			LastHeartbeat: stamp,
			Age:           now.Sub(stamp),
			Attempt:       l.attempts[id],
		})
	}
	sort.Slice(inFlight, func(i, j int) bool { return inFlight[i].JobID < inFlight[j].JobID })

	return types.LedgerSnapshot{
		TotalUnits:  l.totalUnits,
		ChunkSize:   l.chunkSize,
		PacketCount: l.packetCount,
		Status:      l.statusLocked(),
		InFlight:    inFlight,
		TakenAt:     now,
	}
}

func hasKey(m map[types.JobID]struct{}, id types.JobID) bool {
	_, ok := m[id]
	return ok
}

func hasTime(m map[types.JobID]time.Time, id types.JobID) bool {
	_, ok := m[id]
	return ok
}
