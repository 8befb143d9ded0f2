package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opdbt/opdbt/internal/config"
)

// FileName is the dated log file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("opdbt-%s.log", t.Format("2006-01-02"))
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes a logger writing to console and to the dated log file in
// cfg.Directory. console may be nil to log to the file only, as the results
// browser does. The returned func closes the log file.
func Setup(cfg config.LogConfig, console io.Writer) (*slog.Logger, func() error, error) {
	directory := cfg.Directory
	if directory == "" {
		directory = "~/.opdbt/logs/"
	}
	directory = config.ExpandHome(directory)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(directory, FileName(time.Now()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var writer io.Writer = file
	if console != nil {
		writer = io.MultiWriter(console, file)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	return slog.New(handler), file.Close, nil
}
