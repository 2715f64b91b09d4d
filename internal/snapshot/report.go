package snapshot

// ============================================================================
// 職責說明：
// 1. 將 coordinator 的帳本狀態定期寫成 JSON 狀態報告
// 2. 使用原子性寫入（temp file + rename）避免讀到半份檔案
// 3. 供 `status` 命令讀取並顯示，報告不會被載回帳本（不做跨重啟持久化）
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// SchemaVersion 狀態報告格式版本
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedReport     = errors.New("status report file is corrupted")
	ErrIncompatibleVersion = errors.New("status report schema version is incompatible")
	ErrReportNotFound      = errors.New("status report file not found")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Report coordinator 狀態報告
type Report struct {
	SchemaVer       int                  `json:"schema_ver"`
	StartedAt       time.Time            `json:"started_at"`
	PingTimeout     time.Duration        `json:"ping_timeout"`
	CleanupInterval time.Duration        `json:"cleanup_interval"`
	Reclaimed       int                  `json:"reclaimed"` // 啟動後累計回收數
	Ledger          types.LedgerSnapshot `json:"ledger"`
}

// Uptime 報告產生時 coordinator 已運行的時間
func (r Report) Uptime() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.Ledger.TakenAt.Sub(r.StartedAt)
}

// Progress 已完成比例（0~1）
func (r Report) Progress() float64 {
	if r.Ledger.PacketCount == 0 {
		return 0
	}
	return float64(r.Ledger.Status.Completed) / float64(r.Ledger.PacketCount)
}

// Manager 狀態報告管理器
type Manager struct {
	path string     // 報告檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewManager 建立狀態報告管理器
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// Write 原子性寫入狀態報告
//
// 流程：
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(report Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	report.SchemaVer = SchemaVersion

	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status report: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp status report: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status report: %w", err)
	}

	return nil
}

// Load 載入狀態報告
//
// 錯誤處理：
//   - ErrReportNotFound: 檔案不存在（coordinator 尚未啟動或未設定報告路徑）
//   - ErrCorruptedReport: JSON 無法解析
//   - ErrIncompatibleVersion: 版本不符
func (m *Manager) Load() (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, fmt.Errorf("%w: %s", ErrReportNotFound, m.path)
		}
		return report, fmt.Errorf("failed to read status report: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &report); err != nil {
		return report, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}

	if report.SchemaVer != SchemaVersion {
		return report, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, report.SchemaVer, SchemaVersion)
	}

	return report, nil
}

// GetPath 取得報告檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}
