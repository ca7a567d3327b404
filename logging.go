// Package-level structured logging configuration.
//
// This mirrors eventloop's package-level pluggable logger: a single
// process-wide Logger, swappable via SetLogger, defaulting to a no-op
// implementation so the package is silent until a caller opts in. Unlike a
// bespoke logger, the default non-no-op backend is a real
// logiface.Logger[*stumpy.Event] — logiface is the structured-logging
// library used elsewhere in this module, and stumpy is its reference JSON
// backend.

package msgloop

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logging sink used throughout msgloop. Category
// identifies the subsystem (loop, runloop, waitable, sync), Err is non-nil
// for warning/error records, and Fields carries arbitrary key/value pairs
// (task ids, sequence numbers, durations).
type Logger interface {
	Log(level Level, category, message string, err error, fields map[string]any)
	Enabled(level Level) bool
}

// Level is the severity of a log record, aliasing logiface's syslog-style
// level scale so the default backend needs no translation layer.
type Level = logiface.Level

const (
	LevelError = logiface.LevelError
	LevelWarn  = logiface.LevelWarning
	LevelInfo  = logiface.LevelInformational
	LevelDebug = logiface.LevelDebug
)

var globalLogger struct {
	sync.RWMutex
	logger Logger
}

// SetLogger installs the process-wide structured logger. Passing nil
// restores the no-op default.
func SetLogger(l Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
}

func getLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return noOpLogger{}
}

func logf(level Level, category, message string, err error, fields map[string]any) {
	l := getLogger()
	if l.Enabled(level) {
		l.Log(level, category, message, err, fields)
	}
}

type noOpLogger struct{}

func (noOpLogger) Log(Level, string, string, error, map[string]any) {}
func (noOpLogger) Enabled(Level) bool                               { return false }

// stumpyLogger adapts a logiface.Logger[*stumpy.Event] (the "model" logiface
// backend, per its own doc comment) to the msgloop Logger interface.
type stumpyLogger struct {
	minLevel atomic.Int32
	logger   *logiface.Logger[*stumpy.Event]
}

// NewStumpyLogger builds the default structured-logging backend: a
// logiface.Logger[*stumpy.Event] writing newline-delimited JSON, the same
// construction shape used throughout this corpus's logiface adapters
// (stumpy.L.New(stumpy.L.WithStumpy(...), stumpy.L.WithWriter(...))).
func NewStumpyLogger(minLevel Level, opts ...stumpy.Option) *stumpyLogger {
	l := &stumpyLogger{
		logger: stumpy.L.New(append([]logiface.Option[*stumpy.Event]{
			stumpy.L.WithStumpy(opts...),
		}, logiface.WithLevel[*stumpy.Event](minLevel))...),
	}
	l.minLevel.Store(int32(minLevel))
	return l
}

func (s *stumpyLogger) Enabled(level Level) bool {
	return int32(level) <= s.minLevel.Load()
}

func (s *stumpyLogger) Log(level Level, category, message string, err error, fields map[string]any) {
	b := s.logger.Build(level)
	if b == nil {
		return
	}
	b = b.Str(`category`, category)
	if err != nil {
		b = b.Err(err)
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			b = b.Str(k, val)
		case int:
			b = b.Int64(k, int64(val))
		case int64:
			b = b.Int64(k, val)
		case uint64:
			b = b.Int64(k, int64(val))
		case bool:
			b = b.Bool(k, val)
		default:
			b = b.Interface(k, v)
		}
	}
	b.Log(message)
}
