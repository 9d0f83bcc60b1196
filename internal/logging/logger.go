package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/tally/internal/config"
)

// FileName is the diagnostic log inside .tally/logs.
const FileName = "tally.log"

// Logger is a zap logger writing JSON lines to .tally/logs/tally.log so
// users can inspect failures after the terminal UI has exited.
type Logger struct {
	*zap.Logger
	file *os.File
	path string
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, level zapcore.Level) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.TallyDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(f),
		level,
	)
	return &Logger{Logger: zap.New(core), file: f, path: path}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Path returns the log file location, or "" for Nop loggers.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes buffered entries and releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.Logger.Sync()
	return l.file.Close()
}
