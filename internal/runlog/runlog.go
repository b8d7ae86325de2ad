// Package runlog builds the run logger: JSON records into the run
// directory's log file, human-readable console output on stderr.
package runlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a logger writing debug-level JSON to logPath and
// info-level (debug when verbose) console lines to stderr.
func New(logPath string, verbose bool) (*zap.Logger, error) {
	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileSink, _, err := zap.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	consoleSink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, fmt.Errorf("open console sink: %w", err)
	}

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleLevel := zapcore.InfoLevel
	if verbose {
		consoleLevel = zapcore.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), fileSink, zapcore.DebugLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), consoleSink, consoleLevel),
	)
	return zap.New(core), nil
}
