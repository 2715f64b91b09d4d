// ============================================================================
// Beaver-Balancer Command Work - 以子行程執行任務
// ============================================================================
//
// Package: internal/worker
// 文件: command.go
// 功能: 每個任務啟動一個子行程，argv 由樣板展開
//
// 樣板佔位符:
//   {job}   任務編號
//   {start} 區塊起點（含）
//   {end}   區塊終點（不含，最後一塊截斷至 totalUnits）
//   {chunk} 區塊大小
//   {total} 總工作量
//
// 結束語意:
//   - 子行程 exit code 0 視為成功，其餘為失敗（錯誤訊息含 exit code）
//   - work context 取消（Abort）時送出 SIGTERM，GracePeriod 後強制 kill
//   - 子行程在自己的 process group 中執行，不接收前景的 Ctrl-C
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ErrEmptyCommand 樣板沒有任何參數
var ErrEmptyCommand = errors.New("worker: command template is empty")

// DefaultGracePeriod SIGTERM 後等待子行程結束的時間
const DefaultGracePeriod = 5 * time.Second

// Command 子行程設定
type Command struct {
	Args        []string      // argv 樣板，Args[0] 為執行檔
	Dir         string        // 工作目錄（空字串為目前目錄）
	Env         []string      // 額外環境變數（KEY=VALUE）
	GracePeriod time.Duration // SIGTERM 後的等待時間
}

// CommandWork 回傳以子行程執行任務的 WorkFunc
//
// 參數：
//   - cmd: 子行程設定
//
// 返回值：
//   - WorkFunc: 任務執行函式
//   - error: 樣板為空
func CommandWork(cmd Command) (WorkFunc, error) {
	if len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return nil, ErrEmptyCommand
	}
	grace := cmd.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	return func(ctx context.Context, offer types.WorkOffer) error {
		argv := ExpandArgs(cmd.Args, offer)

		proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
		proc.Dir = cmd.Dir
		proc.Env = append(os.Environ(), cmd.Env...)
		proc.Stdout = os.Stdout
		proc.Stderr = os.Stderr
		// 獨立的 process group：終端機的 SIGINT 不會直接送到子行程，只能經由 Abort 結束
		proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		proc.Cancel = func() error {
			return proc.Process.Signal(syscall.SIGTERM)
		}
		proc.WaitDelay = grace

		log.Debug("Spawning job command", "jobID", offer.JobID, "argv", argv)

		if err := proc.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("command terminated: %w", ctxErr)
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("command exited with code %d", exitErr.ExitCode())
			}
			return fmt.Errorf("command failed: %w", err)
		}
		return nil
	}, nil
}

// ExpandArgs 以任務資訊替換樣板中的佔位符
func ExpandArgs(template []string, offer types.WorkOffer) []string {
	start, end := offer.Bounds()
	r := strings.NewReplacer(
		"{job}", strconv.Itoa(int(offer.JobID)),
		"{start}", strconv.FormatInt(start, 10),
		"{end}", strconv.FormatInt(end, 10),
		"{chunk}", strconv.FormatInt(offer.ChunkSize, 10),
		"{total}", strconv.FormatInt(offer.TotalUnits, 10),
	)

	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = r.Replace(arg)
	}
	return out
}
