// Package logging is the gateway's append-only, best-effort log sink
// (component C8). It mirrors the package-level-singleton-guarded-by-a-
// mutex shape used for shared state elsewhere in the example pack (see
// ginkida-gooner/internal/logging), but the wire format and rotation
// policy are the plain-text, size-bounded scheme spec.md §4.8 requires —
// no third-party structured-logging or rotation library in the pack
// covers that shape, so this is built directly on os.File and a mutex.
//
// Log I/O failures are swallowed: a logger must never be the reason a
// request fails.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxSize is the rotation threshold from spec.md §6 (MAX_SIZE = 1 MiB).
const MaxSize = 1 << 20

// MaxBackups is the number of rotated files kept (.1 newest .. .3 oldest).
const MaxBackups = 3

// Logger is a size-rotating, append-only file logger that also echoes
// every line to an additional writer (normally os.Stderr/os.Stdout).
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	echo     io.Writer
	size     int64
	disabled bool
}

// New opens (creating if needed) the log file at path and returns a
// ready-to-use Logger. echo receives a copy of every line; pass nil to
// skip console echoing. If the file can't be opened, logging silently
// degrades to echo-only — per spec.md §4.8, a logger must never block
// or fail request handling.
func New(path string, echo io.Writer) *Logger {
	l := &Logger{path: path, echo: echo}

	if path == "" {
		l.disabled = true
		return l
	}

	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.disabled = true
		return l
	}

	info, err := f.Stat()
	if err == nil {
		l.size = info.Size()
	}
	l.file = f
	return l
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...any) {
	l.write(false, format, args...)
}

// Error logs an error line.
func (l *Logger) Error(format string, args ...any) {
	l.write(true, format, args...)
}

func (l *Logger) write(isError bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := formatLine(isError, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.echo != nil {
		fmt.Fprintln(l.echo, line)
	}

	if l.disabled || l.file == nil {
		return
	}

	n, err := fmt.Fprintln(l.file, line)
	if err != nil {
		// Best-effort: a failed write never propagates to the caller.
		return
	}
	l.size += int64(n)

	if l.size >= MaxSize {
		l.rotateLocked()
	}
}

// formatLine renders "[YYYY-MM-DD HH:MM:SS] [ERROR: ]<msg>" per spec.md §4.8.
func formatLine(isError bool, msg string) string {
	ts := time.Now().Format("2006-01-02 15:04:05")
	if isError {
		return fmt.Sprintf("[%s] [ERROR: ]%s", ts, msg)
	}
	return fmt.Sprintf("[%s] %s", ts, msg)
}

// rotateLocked cycles backups .1 (newest) .. MaxBackups (oldest),
// dropping whatever was at MaxBackups, then reopens a fresh empty file
// at l.path. Caller must hold l.mu.
func (l *Logger) rotateLocked() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	oldest := fmt.Sprintf("%s.%d", l.path, MaxBackups)
	_ = os.Remove(oldest)

	for i := MaxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", l.path, i)
		to := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}

	_ = os.Rename(l.path, l.path+".1")

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.disabled = true
		return
	}
	l.file = f
	l.size = 0
	l.disabled = false
}
