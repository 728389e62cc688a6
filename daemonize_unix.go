//go:build unix

package kitd

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonizedEnv marks a process as the detached re-exec Daemonize
// already spawned, so a second call (inside that re-exec) is a no-op.
// This mirrors the teacher's own RUN_AS_CHILD re-exec marker, repurposed:
// here it means "I have already detached", not "I am the supervised
// callback" — kitd supervises an external argv, not an in-process
// function, so there is nothing callback-shaped to branch into.
const daemonizedEnv = "KITD_DAEMONIZED"

// Daemonize detaches from the controlling terminal by re-executing the
// current binary in a new session with stdio redirected to /dev/null,
// then exits the original process. Go has no daemon(3); this is the
// idiomatic substitute, grounded on
// other_examples/steveyegge-beads__daemon_unix.go and
// other_examples/mcrute-simplevisor__child.go's Setsid-based session
// detachment.
func Daemonize() error {
	if os.Getenv(daemonizedEnv) != "" {
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	defer devnull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	os.Exit(0)
	return nil
}
