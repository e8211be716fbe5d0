// Package logging configura el logger estructurado del servicio (zap) con
// rotación de archivo vía lumberjack.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the service log file.
const (
	maxLogSizeMB  = 5
	maxLogBackups = 3
	maxLogAgeDays = 30
)

var (
	// Logger is the process-wide logger. It discards everything until
	// InitLogger runs, so packages can log unconditionally.
	Logger = zap.NewNop()

	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logPath string
)

// InitLogger writes JSON logs to path (rotated by size) and human-readable
// logs to stderr. verbose enables debug level.
func InitLogger(path string, verbose bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath = path
	SetVerbose(verbose)

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(rotator), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), level),
	)

	Logger = zap.New(core, zap.AddCaller())
	return nil
}

// InitConsole logs to stderr only; used by one-shot CLI commands.
func InitConsole(verbose bool) {
	SetVerbose(verbose)
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	Logger = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level))
}

// SetVerbose switches between debug and info at runtime.
func SetVerbose(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Verbose reports whether debug logging is on.
func Verbose() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// FileSize returns the current log file size in bytes, 0 if unknown.
func FileSize() int64 {
	if logPath == "" {
		return 0
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
