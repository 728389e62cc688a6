package kitd

import (
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForReap(t *testing.T, cm *ChildManager, pid int) ExitReport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reports, err := cm.Reap()
		require.NoError(t, err)
		for _, r := range reports {
			if r.Pid == pid {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pid %d was never reaped", pid)
	return ExitReport{}
}

func TestChildManagerSpawnAndReapNormalExit(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real child")
	}
	cm, err := NewChildManager()
	require.NoError(t, err)

	ok, err := cm.Spawn([]string{"/bin/sh", "-c", "exit 0"}, os.Environ(), os.Stdin)
	require.NoError(t, err)
	require.True(t, ok)
	pid := cm.Child().Pid
	require.NotZero(t, pid)

	report := waitForReap(t, cm, pid)
	assert.True(t, report.Tracked)
	assert.True(t, report.Exited)
	assert.Equal(t, 0, report.Code)
	assert.Nil(t, cm.Child())
}

func TestChildManagerExecFailureReturnsNoErrorAndNoChild(t *testing.T) {
	cm, err := NewChildManager()
	require.NoError(t, err)

	ok, err := cm.Spawn([]string{"/no/such/binary"}, os.Environ(), os.Stdin)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, cm.Child())
}

func TestChildManagerForwardSignalToProcessGroup(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real child")
	}
	cm, err := NewChildManager()
	require.NoError(t, err)

	ok, err := cm.Spawn([]string{"/bin/sh", "-c", "trap 'exit 17' TERM; echo ready; sleep 30"}, os.Environ(), os.Stdin)
	require.NoError(t, err)
	require.True(t, ok)
	pid := cm.Child().Pid

	// The shell prints "ready" once its TERM trap is in place; a SIGTERM
	// sent before that would kill it outright instead of exiting 17.
	var out []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(string(out), "ready") && time.Now().Before(deadline) {
		if n, _ := syscall.Read(cm.StdoutReadFD(), buf); n > 0 {
			out = append(out, buf[:n]...)
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Contains(t, string(out), "ready")

	require.NoError(t, cm.Forward(syscall.SIGTERM))

	report := waitForReap(t, cm, pid)
	assert.True(t, report.Tracked)
	assert.True(t, report.Exited)
	assert.Equal(t, 17, report.Code)
}

func TestChildManagerForwardWithNoChildIsNoop(t *testing.T) {
	cm, err := NewChildManager()
	require.NoError(t, err)
	assert.NoError(t, cm.Forward(syscall.SIGHUP))
}

func TestChildManagerReapIgnoresStrayGrandchild(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real children")
	}
	cm, err := NewChildManager()
	require.NoError(t, err)

	ok, err := cm.Spawn([]string{"/bin/sh", "-c", "exit 3"}, os.Environ(), os.Stdin)
	require.NoError(t, err)
	require.True(t, ok)
	trackedPid := cm.Child().Pid

	report := waitForReap(t, cm, trackedPid)
	assert.True(t, report.Tracked)
	assert.Equal(t, 3, report.Code)

	// A pid forked outside the manager stands in for a stray grandchild:
	// its report is untracked and the live tracked child stays in place.
	ok, err = cm.Spawn([]string{"/bin/sh", "-c", "sleep 30"}, os.Environ(), os.Stdin)
	require.NoError(t, err)
	require.True(t, ok)
	livePid := cm.Child().Pid
	strayPid, err := syscall.ForkExec("/bin/sh", []string{"/bin/sh", "-c", "exit 0"}, &syscall.ProcAttr{})
	require.NoError(t, err)

	stray := waitForReap(t, cm, strayPid)
	assert.False(t, stray.Tracked)
	require.NotNil(t, cm.Child())
	assert.Equal(t, livePid, cm.Child().Pid)

	require.NoError(t, cm.Forward(syscall.SIGKILL))
	waitForReap(t, cm, livePid)
}

func TestChildManagerSignaledExitReport(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real child")
	}
	cm, err := NewChildManager()
	require.NoError(t, err)

	ok, err := cm.Spawn([]string{"/bin/sh", "-c", "kill -KILL $$"}, os.Environ(), os.Stdin)
	require.NoError(t, err)
	require.True(t, ok)
	pid := cm.Child().Pid

	report := waitForReap(t, cm, pid)
	assert.True(t, report.Tracked)
	assert.True(t, report.Signaled)
	assert.Equal(t, syscall.SIGKILL, report.Signal)
}
