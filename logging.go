package kitd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/natefinch/lumberjack"
)

// LevelNotice sits between Info and Warn, mirroring syslog's LOG_NOTICE
// priority (used for child exit conditions), which slog has no native
// equivalent for.
const LevelNotice slog.Level = 2

const (
	defaultLogDir  = "/var/log/kitd"
	logRotateSize  = 10 // MB
	logRotateKeep  = 5
	logRotateAgeDays = 28 // days
)

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

// LogSink is kitd's realization of the reference implementation's
// syslog(3) handle: one record per emitted line, at one of three
// priorities, tagged with the configured identity.
type LogSink struct {
	logger *slog.Logger
	closer io.Closer
}

// DefaultLogPath returns the rotating log file kitd writes to unless the
// operator points NewLogSink elsewhere.
func DefaultLogPath(name string) string {
	return filepath.Join(defaultLogDir, name+".log")
}

// NewLogSink opens the rotating log file at logPath (created the way the
// teacher's setupLogging does, via lumberjack) and, unless daemonize is
// set, mirrors every record to stderr as well.
func NewLogSink(name string, daemonize bool, logPath string) (*LogSink, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logRotateSize,
		MaxBackups: logRotateKeep,
		MaxAge:     logRotateAgeDays,
		Compress:   true,
	}

	var w io.Writer = file
	addSource := true
	if !daemonize {
		w = io.MultiWriter(file, os.Stderr)
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			addSource = false
		}
	}

	return &LogSink{
		logger: slog.New(newHandler(name, w, addSource)),
		closer: file,
	}, nil
}

func newHandler(name string, w io.Writer, addSource bool) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   addSource,
		Level:       slog.LevelInfo,
		ReplaceAttr: replaceLevel,
	}).WithAttrs([]slog.Attr{slog.String("ident", name)})
}

// Info, Notice, and Error correspond directly to the three priorities
// spec.md section 6 assigns: info for stdout lines and routine status,
// notice for stderr lines and child exit conditions, error for internal
// syscall failures.
func (s *LogSink) Info(msg string, args ...any)   { s.log(slog.LevelInfo, msg, args...) }
func (s *LogSink) Notice(msg string, args ...any) { s.log(LevelNotice, msg, args...) }
func (s *LogSink) Error(msg string, args ...any)  { s.log(slog.LevelError, msg, args...) }

func (s *LogSink) log(level slog.Level, msg string, args ...any) {
	s.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

// Logger exposes the underlying *slog.Logger for the two LineBuffers.
func (s *LogSink) Logger() *slog.Logger { return s.logger }

// Close flushes and closes the rotating log file.
func (s *LogSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
