package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/qbandev/gethtml/internal/config"
)

// New builds the process logger. Console format is for terminals; json for log shippers.
// When cfg.File is set, JSON lines are also written there and rotated by size.
func New(cfg config.Log, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var primary io.Writer = stderr
	if cfg.Format != "json" {
		primary = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	writer := primary
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(primary, rotator)
		closer = rotator
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Str("service", "gethtml").Logger()
	return logger, closer, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parsing log level %q: %w", raw, err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
