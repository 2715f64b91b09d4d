package snapshot

// ============================================================================
// 狀態報告測試檔案
// 職責：驗證報告的原子性寫入、載入、版本驗證與錯誤處理
// ============================================================================

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReport(completed int) Report {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Report{
		StartedAt:       started,
		PingTimeout:     5 * time.Second,
		CleanupInterval: 5 * time.Second,
		Reclaimed:       2,
		Ledger: types.LedgerSnapshot{
			TotalUnits:  4000,
			ChunkSize:   1000,
			PacketCount: 4,
			Status:      types.LedgerStatus{Unclaimed: 4 - completed - 1, InFlight: 1, Completed: completed},
			InFlight: []types.InFlightInfo{
				{JobID: 3, LastHeartbeat: started.Add(time.Minute), Age: time.Second, Attempt: 2},
			},
			TakenAt: started.Add(90 * time.Second),
		},
	}
}

// TestNewManager 測試建立管理器
func TestNewManager(t *testing.T) {
	manager := NewManager("status.json")
	assert.NotNil(t, manager)
	assert.Equal(t, "status.json", manager.GetPath())
}

// TestWriteAndLoad 測試寫入與載入報告
func TestWriteAndLoad(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "nested", "status.json"))

	original := newTestReport(2)
	require.NoError(t, manager.Write(original))

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.Equal(t, original.Ledger.Status, loaded.Ledger.Status)
	assert.Equal(t, original.Ledger.InFlight, loaded.Ledger.InFlight)
	assert.Equal(t, original.Reclaimed, loaded.Reclaimed)
	assert.True(t, original.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, 90*time.Second, loaded.Uptime())
	assert.InDelta(t, 0.5, loaded.Progress(), 1e-9)

	_, err = os.Stat(manager.GetPath() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not remain")
}

// TestLoadNotFound 測試檔案不存在
func TestLoadNotFound(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing.json"))
	_, err := manager.Load()
	assert.ErrorIs(t, err, ErrReportNotFound)
}

// TestLoadCorrupted 測試損壞的報告
func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 1, "ledger": `), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrCorruptedReport)
}

// TestLoadIncompatibleVersion 測試版本不符
func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 99}`), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

// TestOverwriteWhileReading 測試覆寫期間讀取永遠得到完整報告
func TestOverwriteWhileReading(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, manager.Write(newTestReport(0)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, manager.Write(newTestReport(i%3)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			report, err := manager.Load()
			assert.NoError(t, err)
			assert.Equal(t, 4, report.Ledger.Status.Total())
		}
	}()
	wg.Wait()
}

func TestProgressEmptyLedger(t *testing.T) {
	assert.Equal(t, 0.0, Report{}.Progress())
	assert.Equal(t, time.Duration(0), Report{}.Uptime())
}
