package kitd

import (
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogSink(t *testing.T) *LogSink {
	t.Helper()
	return &LogSink{logger: slog.New(newHandler("kitd-test", os.Stderr, false))}
}

func newTestSupervisor(t *testing.T, command []string) (*Supervisor, *ChildManager) {
	t.Helper()
	cfg := &Config{
		Name:           "kitd-test",
		Command:        command,
		RestartInitial: 10 * time.Millisecond,
		Cooloff:        time.Second,
		Maximum:        100 * time.Millisecond,
	}
	cm, err := NewChildManager()
	require.NoError(t, err)
	backoff := NewBackoffState(cfg.RestartInitial, cfg.Cooloff, cfg.Maximum)
	inbox := NewSignalInbox()
	t.Cleanup(inbox.Stop)
	return NewSupervisor(cfg, cm, backoff, inbox, newTestLogSink(t), nil, nil), cm
}

func TestSupervisorExitsCleanlyOnMissingCommand(t *testing.T) {
	sup, _ := newTestSupervisor(t, []string{filepath.Join(t.TempDir(), "no-such-binary")})

	done := make(chan int, 1)
	go func() { done <- sup.Run(os.Stdin) }()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned")
	}
}

func TestSupervisorGracefulShutdownOnStopSignal(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real child and delivers a real signal")
	}
	sup, cm := newTestSupervisor(t, []string{"/bin/sh", "-c", "sleep 30"})

	done := make(chan int, 1)
	go func() { done <- sup.Run(os.Stdin) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && cm.Child() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, cm.Child(), "child was never spawned")

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after SIGTERM")
	}
}

func TestSupervisorStopsOnChild127(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real child")
	}
	sup, cm := newTestSupervisor(t, []string{"/bin/sh", "-c", "exit 127"})

	done := make(chan int, 1)
	go func() { done <- sup.Run(os.Stdin) }()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned")
	}
	assert.Nil(t, cm.Child(), "a 127 exit must not trigger a respawn")
}

func TestSupervisorRespawnsAfterCrash(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real children")
	}
	// Each crashing child lives ~50ms so the 5ms poll below can see it.
	sup, cm := newTestSupervisor(t, []string{"/bin/sh", "-c", "sleep 0.05; exit 1"})

	done := make(chan int, 1)
	go func() { done <- sup.Run(os.Stdin) }()

	// Observe at least two distinct pids, proving a respawn happened.
	seen := map[int]bool{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(seen) < 2 {
		if c := cm.Child(); c != nil {
			seen[c.Pid] = true
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, len(seen), 2)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after SIGTERM")
	}
}
