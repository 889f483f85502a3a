// Package log provides the application-wide leveled logger.
// It writes to a file under the XDG data directory so terminal modes
// (which own stdout) never fight the log stream for the screen.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

var (
	mu       sync.Mutex
	logger   = slog.New(slog.NewTextHandler(io.Discard, nil))
	levelVar = new(slog.LevelVar)
	logFile  *os.File
)

// Init opens the log file for the given application name and installs a
// text handler on it. Before Init (library use, tests) all output is
// discarded. Calling Init twice closes the previous file.
func Init(appName string) error {
	path := filepath.Join(xdg.DataHome, appName, appName+".log")
	return InitWithPath(path)
}

// InitWithPath opens a log file at an explicit path.
func InitWithPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelVar}))
	return nil
}

// SetLevel adjusts the minimum level: debug, info, warn, or error.
// Unknown values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Close flushes and closes the log file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return err
}

// Logger returns the underlying slog.Logger for callers that want
// structured attributes instead of format strings.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func Debugf(format string, args ...any) {
	Logger().Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	Logger().Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	Logger().Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	Logger().Error(fmt.Sprintf(format, args...))
}
