package kitd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Child is the currently supervised process: present or absent, exactly
// as described in spec.md section 3. Its process-group id always equals
// its pid, since it is the first (and, as far as kitd is concerned,
// only) member of that group.
type Child struct {
	Pid       int
	StartedAt time.Time
}

// Pgid returns the child's process-group id, which equals its pid.
func (c *Child) Pgid() int {
	return c.Pid
}

// ExitReport summarizes one reaped pid, tracked or not.
type ExitReport struct {
	Pid      int
	Tracked  bool // false for a stray grandchild
	Exited   bool
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// ChildManager owns the two pipe pairs for the supervisor's entire
// lifetime and the single live Child slot. The write ends are duplicated
// onto the child's fds 1 and 2 before every exec and are never closed
// between restarts; the read ends are read continuously by the
// supervisor for as long as it runs.
type ChildManager struct {
	stdoutR, stdoutW int
	stderrR, stderrW int

	child *Child
}

// NewChildManager creates both close-on-exec pipe pairs, with their read
// ends set non-blocking.
func NewChildManager() (*ChildManager, error) {
	cm := &ChildManager{}
	var err error
	cm.stdoutR, cm.stdoutW, err = newPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cm.stderrR, cm.stderrW, err = newPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return cm, nil
}

func newPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// StdoutReadFD and StderrReadFD expose the supervisor-owned read ends for
// the background pipe-reader goroutines to wrap in *os.File.
func (cm *ChildManager) StdoutReadFD() int { return cm.stdoutR }
func (cm *ChildManager) StderrReadFD() int { return cm.stderrR }

// Child returns the currently tracked child, or nil.
func (cm *ChildManager) Child() *Child { return cm.child }

// execFailed reports whether err looks like execve itself failed
// (bad path, not executable, ...) rather than fork/setup having failed
// for lack of resources. Go's syscall.ForkExec front-loads exec-failure
// detection into a synchronous error return (via an error pipe from the
// forked child), unlike the reference C implementation where only fork()
// failures are visible to the parent and exec() failures show up later
// as the child's exit status 127. kitd maps the former class back onto
// the latter's operator-visible behavior: log a notice and stop, exactly
// as a status-127 reap would.
func execFailed(err error) bool {
	switch {
	case errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.ENOEXEC),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTDIR):
		return true
	default:
		return false
	}
}

// Spawn forks and execs argv, placing the child in its own process group
// and wiring fds 1/2 onto the supervisor-owned pipe write ends. stdin is
// passed through unmodified (typically the supervisor's own stdin, or
// /dev/null once daemonized).
//
// It returns (true, nil) on a live spawn, (false, nil) when argv[0]
// itself could not be executed (the 127 convention: the caller should
// log a notice and stop supervising, never scheduling another spawn),
// and (false, err) for a genuine setup failure, which is fatal.
func (cm *ChildManager) Spawn(argv, env []string, stdin *os.File) (bool, error) {
	if cm.child != nil {
		return false, fmt.Errorf("spawn: a child is already running")
	}
	if len(argv) == 0 {
		return false, fmt.Errorf("spawn: empty command")
	}

	attr := &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{stdin.Fd(), uintptr(cm.stdoutW), uintptr(cm.stderrW)},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return false, nil // notice-and-stop: argv[0] cannot be resolved at all
	}

	pid, err := syscall.ForkExec(path, argv, attr)
	if err != nil {
		if execFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("fork/exec %s: %w", argv[0], err)
	}

	cm.child = &Child{Pid: pid, StartedAt: time.Now()}
	return true, nil
}

// Forward delivers sig to the child's process group, so descendants the
// child spawned receive it too. It is a no-op if no child exists.
func (cm *ChildManager) Forward(sig os.Signal) error {
	if cm.child == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("forward: %v is not a syscall.Signal", sig)
	}
	return unix.Kill(-cm.child.Pgid(), s)
}

// Reap drains every exited child with WNOHANG, since a single SIGCHLD
// delivery can coalesce more than one exit and kitd acts as a subreaper
// for any orphaned grandchildren the supervised command leaves behind.
// Reports for pids other than the tracked child have Tracked == false
// and should be logged and otherwise ignored; the tracked child's report
// clears the Child slot.
func (cm *ChildManager) Reap() ([]ExitReport, error) {
	var reports []ExitReport
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				break
			}
			return reports, err
		}
		if pid <= 0 {
			break
		}

		report := ExitReport{Pid: pid}
		switch {
		case status.Exited():
			report.Exited = true
			report.Code = status.ExitStatus()
		case status.Signaled():
			report.Signaled = true
			report.Signal = status.Signal()
		}

		if cm.child != nil && pid == cm.child.Pid {
			report.Tracked = true
			cm.child = nil
		}
		reports = append(reports, report)
	}
	return reports, nil
}
