// Package logger builds the slog loggers used by the kernel packages and
// kfsctl.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvDebug raises the level to Debug when set to any non-empty value, which
// makes the buddy allocator log every split and merge.
const EnvDebug = "KFS_LOG_PMM"

const (
	logPrefix     = "kfs-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Discard is a logger that drops everything.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures New.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination when LogDir is empty. Default: os.Stderr
	LogDir  string     // If set, log to a dated file in this directory
	Level   slog.Level // Minimum level. Default: LevelInfo
	JSON    bool       // JSON records instead of key=value text
}

// New returns a logger for opts and a function that releases its file, if
// any.
func New(opts Options) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }
	if !opts.Enabled {
		return Discard, noop, nil
	}

	level := opts.Level
	if os.Getenv(EnvDebug) != "" {
		level = slog.LevelDebug
	}

	w := opts.Writer
	closer := noop
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, nil, err
		}

		// Clean up old logs (best-effort, ignore errors)
		cleanOldLogs(opts.LogDir, time.Now())

		name := filepath.Join(opts.LogDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w, closer = f, f.Close
	}
	if w == nil {
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, hopts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), closer, nil
}

// cleanOldLogs removes log files older than retentionDays.
func cleanOldLogs(logDir string, now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}

		// kfs-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}
