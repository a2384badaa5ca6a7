// Package log provides structured, component-scoped logging for every
// nanokernel subsystem, backed by zap instead of a hand-rolled writer.
package log

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors zapcore.Level so call sites never import zap directly.
type Level = zapcore.Level

const (
	Debug Level = zapcore.DebugLevel
	Info  Level = zapcore.InfoLevel
	Warn  Level = zapcore.WarnLevel
	Error Level = zapcore.ErrorLevel
	Fatal Level = zapcore.FatalLevel
)

// Field is a typed key-value pair, same call-site shape as zap.Field.
type Field = zap.Field

func String(key, value string) Field          { return zap.String(key, value) }
func Int(key string, value int) Field         { return zap.Int(key, value) }
func Int64(key string, value int64) Field     { return zap.Int64(key, value) }
func Uint64(key string, value uint64) Field   { return zap.Uint64(key, value) }
func Float64(key string, value float64) Field { return zap.Float64(key, value) }
func Bool(key string, value bool) Field       { return zap.Bool(key, value) }
func Err(err error) Field                     { return zap.Error(err) }
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}
func Any(key string, value interface{}) Field { return zap.Any(key, value) }

// Logger is a component-scoped structured logger.
type Logger struct {
	z *zap.Logger
}

var (
	mu     sync.Mutex
	atom   = zap.NewAtomicLevelAt(Info)
	global = newRoot()
)

func newRoot() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), atom)
	return zap.New(core)
}

// SetLevel adjusts the minimum level for every Logger created by New.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	atom.SetLevel(l)
}

// New creates a component-scoped logger, e.g. log.New("pod"), log.New("synch").
func New(component string) *Logger {
	return &Logger{z: global.With(zap.String("component", component))}
}

// With returns a derived logger carrying the given fields on every call.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Fatal logs at fatal level without terminating the process — the pod's
// own fatal handler (not the logger) owns the decision to halt. zap
// swaps WriteThenNoop for its exiting hook, so a hook of this package's
// own type is installed instead.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.z.WithOptions(zap.WithFatalHook(noExit{})).Fatal(msg, fields...)
}

// noExit is a fatal hook that does nothing once the entry is written.
type noExit struct{}

func (noExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
