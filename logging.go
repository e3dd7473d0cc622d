package deimos

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

func rotatingLog(logPath string) (*lumberjack.Logger, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log dir '%s': %w", dir, err)
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

// SetupLogging installs the default slog logger writing to stdout and a
// rotated log file. The returned closer flushes the file sink.
func SetupLogging(logPath string, verbose bool) (io.Closer, error) {
	fileLogger, err := rotatingLog(logPath)
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	mw := io.MultiWriter(os.Stdout, fileLogger)
	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return fileLogger, nil
}
