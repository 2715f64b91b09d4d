package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command tests need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExpandArgs(t *testing.T) {
	offer := types.WorkOffer{Work: true, JobID: 2, ChunkSize: 1000, TotalUnits: 2500}

	got := ExpandArgs([]string{"process", "--job={job}", "{start}", "{end}", "{chunk}/{total}", "plain"}, offer)
	assert.Equal(t, []string{"process", "--job=2", "2000", "2500", "1000/2500", "plain"}, got,
		"last chunk is clamped to total units")
}

func TestCommandWorkEmptyTemplate(t *testing.T) {
	_, err := CommandWork(Command{})
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = CommandWork(Command{Args: []string{""}})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestCommandWorkSuccess(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "range.txt")

	work, err := CommandWork(Command{Args: []string{"sh", "-c", "echo {start}-{end} > " + out}})
	require.NoError(t, err)

	err = work(context.Background(), types.WorkOffer{Work: true, JobID: 1, ChunkSize: 10, TotalUnits: 15})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "10-15\n", string(data))
}

func TestCommandWorkExitCode(t *testing.T) {
	requireShell(t)

	work, err := CommandWork(Command{Args: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, err)

	err = work(context.Background(), offerFor(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
}

func TestCommandWorkEnv(t *testing.T) {
	requireShell(t)

	work, err := CommandWork(Command{
		Args: []string{"sh", "-c", `test "$BALANCER_TEST" = yes`},
		Env:  []string{"BALANCER_TEST=yes"},
	})
	require.NoError(t, err)
	assert.NoError(t, work(context.Background(), offerFor(0)))
}

func TestCommandWorkTerminatedOnCancel(t *testing.T) {
	requireShell(t)

	work, err := CommandWork(Command{Args: []string{"sleep", "30"}, GracePeriod: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- work(ctx, offerFor(0)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subprocess should be terminated on cancel")
	}
}

// TestCommandWorkOwnProcessGroup checks the child leads its own process
// group, so a terminal SIGINT only reaches it through Abort.
func TestCommandWorkOwnProcessGroup(t *testing.T) {
	requireShell(t)
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}

	work, err := CommandWork(Command{
		Args: []string{"sh", "-c", `test "$(cut -d' ' -f5 /proc/$$/stat)" = "$$"`},
	})
	require.NoError(t, err)
	assert.NoError(t, work(context.Background(), offerFor(0)), "child pgid should equal its pid")
}

func TestCommandWorkMissingBinary(t *testing.T) {
	work, err := CommandWork(Command{Args: []string{"/nonexistent/beaver-balancer-tool"}})
	require.NoError(t, err)

	err = work(context.Background(), offerFor(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")
}
