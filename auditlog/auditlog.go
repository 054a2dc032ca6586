// Package auditlog appends timestamped entries to a shared text log.
//
// Each entry is a line of the form
//
//	<message> <unix-epoch-millis>
//
// optionally followed by one line describing the error that caused it.
package auditlog

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Logger is a process-wide append-only sink. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New returns a Logger appending to the file at path. The parent directory
// is created if needed; the file itself is created on first write.
func New(path string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	l := &Logger{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// Log appends message and, if cause is non-nil, its description on the
// following line. It returns cause unchanged once the entry is written, so
// failing operations can end with `return "", log.Log(msg, err)`.
func (l *Logger) Log(message string, cause error) error {
	if err := l.append(Format(message, cause, l.now())); err != nil {
		if cause != nil {
			return errors.Wrapf(cause, "audit log write failed (%v)", err)
		}
		return err
	}
	return cause
}

// Format renders a single entry. Newlines in message and cause are
// replaced by spaces so each entry stays line-oriented.
func Format(message string, cause error, at time.Time) string {
	var b strings.Builder
	b.WriteString(oneLine(message))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(at.UnixMilli(), 10))
	b.WriteByte('\n')
	if cause != nil {
		b.WriteString(oneLine(cause.Error()))
		b.WriteByte('\n')
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// append writes the entry with a single write on an O_APPEND descriptor.
func (l *Logger) append(entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening audit log")
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return errors.Wrap(err, "appending to audit log")
	}
	return errors.Wrap(f.Close(), "closing audit log")
}

// Truncate empties the log, creating it if it does not exist.
func (l *Logger) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Wrap(os.WriteFile(l.path, nil, 0o644), "truncating audit log")
}
