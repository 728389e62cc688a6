package kitd

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestInbox() *SignalInbox {
	return &SignalInbox{ch: make(chan os.Signal, 32)}
}

func TestSignalInboxDrainOrdersByPriority(t *testing.T) {
	ib := newTestInbox()
	ib.ch <- syscall.SIGCHLD
	ib.ch <- syscall.SIGUSR1
	ib.ch <- syscall.SIGTERM

	got := ib.Drain(InfoSignal)

	want := []os.Signal{InfoSignal, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGCHLD}
	assert.Equal(t, want, got)
}

func TestSignalInboxCollapsesDuplicates(t *testing.T) {
	ib := newTestInbox()
	ib.ch <- syscall.SIGHUP
	ib.ch <- syscall.SIGHUP
	ib.ch <- syscall.SIGHUP

	got := ib.Drain(syscall.SIGHUP)
	assert.Equal(t, []os.Signal{syscall.SIGHUP}, got)
}

func TestIsStopSignal(t *testing.T) {
	assert.True(t, IsStopSignal(syscall.SIGINT))
	assert.True(t, IsStopSignal(syscall.SIGTERM))
	assert.False(t, IsStopSignal(syscall.SIGHUP))
}

func TestIsForwardOnlySignal(t *testing.T) {
	assert.True(t, IsForwardOnlySignal(syscall.SIGHUP))
	assert.True(t, IsForwardOnlySignal(syscall.SIGUSR1))
	assert.False(t, IsForwardOnlySignal(InfoSignal))
}
