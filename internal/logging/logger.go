// Package logging configures the process-wide structured logger. Every
// component receives a *slog.Logger at construction rather than reaching
// for a package-level singleton.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// New builds a structured logger that writes to both stderr and, when
// dir is non-empty, a bridge.log file under dir. The returned close
// function releases the log file and should be deferred by the caller.
func New(dir string, level slog.Level) (*slog.Logger, func() error, error) {
	writers := []io.Writer{os.Stderr}
	closeFn := func() error { return nil }

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		path := filepath.Join(dir, "bridge.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler), closeFn, nil
}

// ErrorKind attaches a structured "kind" field to an error log line so
// the error taxonomy kinds defined across packages are queryable.
func ErrorKind(kind string, err error) slog.Attr {
	return slog.Group("error", slog.String("kind", kind), slog.Any("err", err))
}
