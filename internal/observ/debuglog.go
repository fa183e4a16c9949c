package observ

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Rotation threshold for the debug log file, in megabytes.
	maxLogSizeMB = 5
	// Archived files kept after rotation.
	maxRotatedLogs = 10
)

// DebugLog is the operator-facing file sink: every component logs through
// it in addition to the console, and the admin API exposes load/clear.
type DebugLog struct {
	path   string
	writer *lumberjack.Logger
}

// NewDebugLog opens a size-rotated log file at path.
func NewDebugLog(path string) *DebugLog {
	return &DebugLog{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxRotatedLogs,
		},
	}
}

// Attach returns a logger that duplicates entries into the debug log file.
func (d *DebugLog) Attach(logger *zap.Logger) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(d.writer),
		zapcore.DebugLevel,
	)

	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

// Load returns up to maxBytes from the end of the current log file.
// A missing file is an empty log, not an error.
func (d *DebugLog) Load(maxBytes int64) ([]byte, error) {
	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat debug log: %w", err)
	}

	if maxBytes > 0 && info.Size() > maxBytes {
		if _, err := f.Seek(-maxBytes, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("seek debug log: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read debug log: %w", err)
	}
	return data, nil
}

// Clear truncates the current log file. Archived rotations are untouched.
func (d *DebugLog) Clear() error {
	if err := os.Truncate(d.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate debug log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying rotated writer.
func (d *DebugLog) Close() error {
	return d.writer.Close()
}
