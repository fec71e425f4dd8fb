package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	root  = zap.NewNop()
	level = zap.NewAtomicLevel()
)

// Init replaces the process-wide logger with a production JSON logger at
// the given level. Unknown level strings fall back to info.
func Init(levelName string) error {
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = built
	mu.Unlock()
	return nil
}

// SetLevel adjusts the logging threshold at runtime.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Logger returns the process-wide logger. Before Init it is a nop.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// WithModule tags a child logger with the subsystem it belongs to.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}
