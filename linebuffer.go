package kitd

import (
	"bytes"
	"context"
	"log/slog"
)

// lineBufferCapacity matches the reference implementation's fixed
// 1024-byte accumulation buffer.
const lineBufferCapacity = 1024

// LineBuffer accumulates bytes read from a pipe and flushes complete,
// newline-terminated lines as individual log records. It maintains the
// invariant length < capacity after every Flush.
type LineBuffer struct {
	buf [lineBufferCapacity]byte
	len int
}

// Fill copies up to the buffer's remaining capacity from p, appending to
// any unflushed tail. EAGAIN (wrapped as an error satisfying
// errors.Is(err, syscall.EAGAIN)) is treated as "nothing to do" by the
// caller, not as an error here — Fill itself only ever appends what it
// was handed.
func (l *LineBuffer) Fill(p []byte) {
	room := len(l.buf) - l.len
	if room <= 0 {
		return
	}
	n := copy(l.buf[l.len:l.len+room], p)
	l.len += n
}

// Room reports how many bytes may still be appended before Fill drops
// data on the floor.
func (l *LineBuffer) Room() int {
	return len(l.buf) - l.len
}

// Flush emits one log record per newline-terminated run of bytes
// currently buffered, at the given priority, via logf. If the buffer is
// completely full and contains no newline at all, the entire buffer is
// emitted as a single record and cleared, guaranteeing forward progress
// on pathological unterminated lines.
func (l *LineBuffer) Flush(logf func(line string)) {
	if l.len == len(l.buf) {
		if i := bytes.IndexByte(l.buf[:l.len], '\n'); i < 0 {
			logf(string(l.buf[:l.len]))
			l.len = 0
			return
		}
	}

	start := 0
	for {
		rel := bytes.IndexByte(l.buf[start:l.len], '\n')
		if rel < 0 {
			break
		}
		nl := start + rel
		logf(string(l.buf[start:nl]))
		start = nl + 1
	}
	if start > 0 {
		l.len = copy(l.buf[:], l.buf[start:l.len])
	}
}

// FlushAt is a convenience wrapper binding Flush to a *slog.Logger at a
// fixed priority, used by the supervisor loop for the stdout/stderr
// buffers (info and notice respectively).
func (l *LineBuffer) FlushAt(logger *slog.Logger, level slog.Level) {
	l.Flush(func(line string) {
		logger.Log(context.Background(), level, line)
	})
}
