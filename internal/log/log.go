// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a logger using the Zap structured logger.
// If stdout is false, a file-based logger is used. Otherwise a console logger is used.
func NewLogger(logDir, logName string, debug, stdout bool) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	var sink zapcore.WriteSyncer
	if stdout {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		file, err := openLogFile(logDir, logName)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), sink, level)
	if debug {
		return zap.New(core, zap.AddCaller()), nil
	}
	return zap.New(core), nil
}

// LogFilePath returns the file NewLogger writes to for the given directory
// and name.
func LogFilePath(logDir, logName string) string {
	if logDir == "" {
		logDir = "/tmp"
	}
	if logName == "" {
		logName = filepath.Base(os.Args[0])
	}
	return filepath.Join(logDir, logName+".log")
}

func openLogFile(logDir, logName string) (*os.File, error) {
	path := LogFilePath(logDir, logName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// NewRunID returns a fresh identifier for one tool invocation.
func NewRunID() string {
	return uuid.NewString()
}

// WithRun tags every entry of logger with the run id and subcommand, so the
// entries of one invocation can be found in a shared log file.
func WithRun(logger *zap.Logger, runID, command string) *zap.Logger {
	return logger.With(zap.String("run_id", runID), zap.String("cmd", command))
}
