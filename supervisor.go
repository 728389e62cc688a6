package kitd

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// Supervisor is the single select loop spec.md section 4.6 describes.
// Every field it mutates — the child, the backoff state, and the two
// line buffers — is touched only from the goroutine running Run; the
// pipe readers, the signal inbox, and the optional binary watcher are
// all producers feeding that one consumer, never mutators themselves.
type Supervisor struct {
	cfg     *Config
	cm      *ChildManager
	backoff *BackoffState
	inbox   *SignalInbox
	log     *LogSink
	metrics *Metrics
	watcher *BinaryWatcher

	stdoutBuf LineBuffer
	stderrBuf LineBuffer

	lastStart time.Time

	stopping       bool           // stop signal received or child exited 127: forward, reap, exit 0
	commandMissing bool           // argv[0] could not be exec'd: exit 0, never spawned
	stopSignal     syscall.Signal // signal last forwarded for shutdown, to suppress its own exit notice
}

// NewSupervisor wires the already-constructed components together.
// metrics and watcher may be nil, matching their opt-in flags.
func NewSupervisor(cfg *Config, cm *ChildManager, backoff *BackoffState, inbox *SignalInbox, log *LogSink, metrics *Metrics, watcher *BinaryWatcher) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		cm:      cm,
		backoff: backoff,
		inbox:   inbox,
		log:     log,
		metrics: metrics,
		watcher: watcher,
	}
}

// Run spawns the command, then loops forwarding signals, relaying
// output, reaping exits, and rescheduling restarts until a stop signal
// is handled and no child remains. It always returns 0: a normal
// shutdown, a child's own 127 exit sentinel, and a command that could
// never be exec'd in the first place all fall off the loop the same
// way the reference implementation falls off main.
func (s *Supervisor) Run(stdin *os.File) int {
	stdoutCh := make(chan []byte, 16)
	stderrCh := make(chan []byte, 16)
	go pumpPipe(os.NewFile(uintptr(s.cm.StdoutReadFD()), "kitd-stdout"), stdoutCh)
	go pumpPipe(os.NewFile(uintptr(s.cm.StderrReadFD()), "kitd-stderr"), stderrCh)

	var restartsCh chan string
	if s.watcher != nil {
		restartsCh = make(chan string, 1)
		watchDone := make(chan struct{})
		go s.watcher.Run(watchDone, restartsCh, func(err error) {
			s.log.Error("binary watch: %v", err)
		})
		defer close(watchDone)
	}

	if s.metrics != nil && s.cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(context.Background())
		go s.metrics.Serve(metricsCtx, s.cfg.MetricsAddr, s.log)
		defer cancel()
	}

	s.log.Info("starting %s\n%s", s.cfg.Name, s.cfg.describe())
	s.trySpawn(stdin)

	for {
		if s.stopping && s.cm.Child() == nil {
			break
		}
		if s.commandMissing {
			break
		}

		if s.metrics != nil {
			uptime := time.Duration(0)
			if child := s.cm.Child(); child != nil {
				uptime = time.Since(child.StartedAt)
			}
			s.metrics.SetChildUptime(uptime)
		}

		var timerC <-chan time.Time
		if deadline, pending := s.backoff.Deadline(); pending && !s.stopping {
			timerC = time.After(time.Until(deadline))
		}

		select {
		case sig := <-s.inbox.Chan():
			s.handleSignals(s.inbox.Drain(sig))

		case chunk, ok := <-stdoutCh:
			if !ok {
				stdoutCh = nil
				continue
			}
			s.stdoutBuf.Fill(chunk)
			s.stdoutBuf.FlushAt(s.log.Logger(), slog.LevelInfo)

		case chunk, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				continue
			}
			s.stderrBuf.Fill(chunk)
			s.stderrBuf.FlushAt(s.log.Logger(), LevelNotice)

		case reason := <-restartsCh:
			if s.cm.Child() != nil {
				s.log.Notice("restart requested: %s", reason)
				_ = s.cm.Forward(syscall.SIGTERM)
			}

		case <-timerC:
			s.trySpawn(stdin)
		}
	}

	s.drainBuffers()
	return 0
}

// handleSignals acts on one priority-ordered batch drained from the
// inbox, per spec.md section 5.
func (s *Supervisor) handleSignals(signals []os.Signal) {
	for _, sig := range signals {
		switch {
		case sig == InfoSignal:
			s.reportStatus()

		case IsStopSignal(sig):
			s.log.Notice("received %v, stopping", sig)
			s.stopping = true
			if ss, ok := sig.(syscall.Signal); ok {
				s.stopSignal = ss
			}
			_ = s.cm.Forward(sig)

		case IsForwardOnlySignal(sig):
			s.log.Info("forwarding %v to child", sig)
			_ = s.cm.Forward(sig)

		case sig == syscall.SIGCHLD:
			s.handleReap()
		}
	}
}

// handleReap drains every exited pid (a single SIGCHLD can coalesce
// more than one exit) and reschedules the tracked child's restart.
func (s *Supervisor) handleReap() {
	reports, err := s.cm.Reap()
	if err != nil {
		s.log.Error("reap: %v", err)
		return
	}
	now := time.Now()
	for _, r := range reports {
		if !r.Tracked {
			s.log.Notice("reaped stray pid %d", r.Pid)
			continue
		}

		uptime := now.Sub(s.lastStart)
		switch {
		case r.Exited:
			s.log.Notice("child exited, status %d, uptime %s", r.Code, uptime)
			if r.Code != 0 && s.metrics != nil {
				s.metrics.RecordCrash()
			}
			if r.Code == 127 {
				s.stopping = true
			}
		case r.Signaled:
			if !(s.stopping && r.Signal == s.stopSignal) {
				s.log.Notice("child killed by %v, uptime %s", r.Signal, uptime)
			}
			if s.metrics != nil {
				s.metrics.RecordCrash()
			}
		}

		if s.stopping {
			continue
		}

		delay := s.backoff.Reschedule(now, uptime)
		if s.metrics != nil {
			s.metrics.RecordRestart(uptime >= s.cfg.Cooloff)
			s.metrics.SetBackoff(delay)
			s.metrics.SetChildUptime(0)
		}
		s.log.Info("next restart in %s", NewInterval(delay).Format())
	}
}

// trySpawn attempts one spawn and folds the three possible outcomes
// (spawned, command missing, fatal setup error) into supervisor state.
func (s *Supervisor) trySpawn(stdin *os.File) {
	ok, err := s.cm.Spawn(s.cfg.Command, os.Environ(), stdin)
	if err != nil {
		s.log.Error("spawn %s: %v", s.cfg.Command[0], err)
		s.stopping = true
		return
	}
	if !ok {
		s.log.Notice("cannot execute %s, giving up", s.cfg.Command[0])
		s.commandMissing = true
		return
	}

	s.backoff.ClearDeadline()
	s.lastStart = time.Now()
	s.log.Info("spawned %s, pid %d", s.cfg.Command[0], s.cm.Child().Pid)
	if s.metrics != nil {
		s.metrics.SetBackoff(0)
	}
}

// reportStatus answers the info signal with a single info line, the
// Go-side equivalent of the reference implementation's SIGINFO handler.
func (s *Supervisor) reportStatus() {
	child := s.cm.Child()
	if child == nil {
		remaining := time.Duration(0)
		if deadline, pending := s.backoff.Deadline(); pending {
			remaining = time.Until(deadline)
		}
		s.log.Info("no child running, next restart in %s", NewInterval(remaining).Format())
		return
	}
	s.log.Info("child pid %d up %s", child.Pid, time.Since(child.StartedAt).Round(time.Second))
}

// drainBuffers flushes any unterminated partial line left in either
// buffer at shutdown, so no output is silently lost.
func (s *Supervisor) drainBuffers() {
	if s.stdoutBuf.Room() < lineBufferCapacity {
		s.stdoutBuf.FlushAt(s.log.Logger(), slog.LevelInfo)
		if s.stdoutBuf.len > 0 {
			s.log.Logger().Log(context.Background(), slog.LevelInfo, string(s.stdoutBuf.buf[:s.stdoutBuf.len]))
			s.stdoutBuf.len = 0
		}
	}
	if s.stderrBuf.Room() < lineBufferCapacity {
		s.stderrBuf.FlushAt(s.log.Logger(), LevelNotice)
		if s.stderrBuf.len > 0 {
			s.log.Logger().Log(context.Background(), LevelNotice, string(s.stderrBuf.buf[:s.stderrBuf.len]))
			s.stderrBuf.len = 0
		}
	}
}

// pumpPipe is the stateless byte pump behind each pipe-reader channel:
// it owns nothing but the local read buffer, and every chunk it sends
// is a fresh copy so the select loop can hold onto it indefinitely.
func pumpPipe(f *os.File, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}
