package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Options struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger. With a file configured records go there as
// JSON through a rotating writer; otherwise they go to stderr as text. Every
// record passes through the redacting handler.
func New(opts Options, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.File == "" {
		if stderr == nil {
			stderr = io.Discard
		}
		handler := slog.NewTextHandler(stderr, handlerOpts)
		return slog.New(NewRedactingHandler(handler)), nopCloser{}, nil
	}

	writer, err := newRotatingWriter(opts)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(writer, handlerOpts)
	return slog.New(NewRedactingHandler(handler)), writer, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", raw, err)
	}
	return level, nil
}
