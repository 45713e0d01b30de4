// Package logger builds the process-wide logrus logger
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agent-sterling-go/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// NewLogger creates the logger described by cfg. Output is one of stdout,
// stderr, file or both (stdout plus the rotated file).
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := output(cfg)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(formatter(cfg.Format))
	// Caller info is only worth its cost while debugging
	logger.SetReportCaller(level >= logrus.DebugLevel)
	return logger, nil
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	}
}

func output(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
		rotated, err := rotatingFile(cfg.File)
		if err != nil {
			return nil, err
		}
		if cfg.Output == "both" {
			return io.MultiWriter(os.Stdout, rotated), nil
		}
		return rotated, nil
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}
}

func rotatingFile(cfg config.FileConfig) (io.Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   true,
	}, nil
}

// WithService tags entries with the emitting service and the run they belong to
func WithService(logger *logrus.Logger, service string, runID string) *logrus.Entry {
	fields := logrus.Fields{"service": service}
	if runID != "" {
		fields["run_id"] = runID
	}
	return logger.WithFields(fields)
}
