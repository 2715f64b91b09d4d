// Package types 定義了 beaver-balancer 系統中使用的核心領域模型
package types

import (
	"fmt"
	"time"
)

// JobID 任務編號，範圍為 [0, packetCount)
type JobID int

// JobStatus 任務狀態
type JobStatus string

// 定義任務狀態常數
const (
	StatusUnclaimed JobStatus = "unclaimed" // 待領取：尚未分派給任何 worker
	StatusInFlight  JobStatus = "in_flight" // 執行中：已分派，等待心跳與完成通知
	StatusCompleted JobStatus = "completed" // 已完成：終止狀態
)

// WorkOffer coordinator 對 RequestWork 的回應
//
// Work 為 true 時 JobID / ChunkSize / TotalUnits 有效；
// Work 為 false 時 Shutdown 表示是否已不會再有新任務。
type WorkOffer struct {
	Work       bool  `json:"work"`
	JobID      JobID `json:"job_id,omitempty"`
	ChunkSize  int64 `json:"chunk_size,omitempty"`
	TotalUnits int64 `json:"total_units,omitempty"`
	Shutdown   bool  `json:"shutdown,omitempty"`
}

// Bounds 回傳此任務涵蓋的單位區間 [start, end)
func (o WorkOffer) Bounds() (start, end int64) {
	return ChunkBounds(o.JobID, o.ChunkSize, o.TotalUnits)
}

// String 用於日誌輸出
func (o WorkOffer) String() string {
	if !o.Work {
		return fmt.Sprintf("no work (shutdown=%t)", o.Shutdown)
	}
	start, end := o.Bounds()
	return fmt.Sprintf("job %d [%d, %d)", o.JobID, start, end)
}

// CompletionInfo 隨完成通知一起回報的附加資訊
// 每次呼叫各自建立，不共用
type CompletionInfo struct {
	Error    string `json:"error,omitempty"`     // 失敗原因（成功時為空）
	WorkerID string `json:"worker_id,omitempty"` // 回報者識別碼
}

// SessionState worker 端單一任務的生命週期狀態
type SessionState string

const (
	SessionStarting  SessionState = "starting"
	SessionRunning   SessionState = "running"
	SessionSucceeded SessionState = "succeeded"
	SessionFailed    SessionState = "failed"
	SessionAborted   SessionState = "aborted"
)

// Terminal 是否為終止狀態
func (s SessionState) Terminal() bool {
	return s == SessionSucceeded || s == SessionFailed || s == SessionAborted
}

// LedgerStatus 各集合大小的時間點快照
type LedgerStatus struct {
	Unclaimed int `json:"unclaimed"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
}

// Total 三個集合的總和，恆等於 packetCount
func (s LedgerStatus) Total() int {
	return s.Unclaimed + s.InFlight + s.Completed
}

// String 與舊版 balancer 相同的狀態列格式
func (s LedgerStatus) String() string {
	return fmt.Sprintf("%d/%d/%d (unclaimed/in-flight/completed)", s.Unclaimed, s.InFlight, s.Completed)
}

// InFlightInfo 執行中任務資訊
type InFlightInfo struct {
	JobID         JobID         `json:"job_id"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Age           time.Duration `json:"age"`     // 距上次心跳的時間
	Attempt       int           `json:"attempt"` // 第幾次分派
}

// LedgerSnapshot ledger 的觀測用快照，不作為持久化來源
type LedgerSnapshot struct {
	TotalUnits  int64          `json:"total_units"`
	ChunkSize   int64          `json:"chunk_size"`
	PacketCount int            `json:"packet_count"`
	Status      LedgerStatus   `json:"status"`
	InFlight    []InFlightInfo `json:"in_flight"`
	TakenAt     time.Time      `json:"taken_at"`
}

// ChunkBounds 計算任務的單位區間 [start, end)，最後一塊可能小於 chunkSize
func ChunkBounds(id JobID, chunkSize, totalUnits int64) (start, end int64) {
	start = int64(id) * chunkSize
	end = start + chunkSize
	if end > totalUnits {
		end = totalUnits
	}
	if start > end {
		start = end
	}
	return start, end
}
