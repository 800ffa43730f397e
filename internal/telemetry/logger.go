package telemetry

import (
	"fmt"
	"io"
	"log/slog"
)

// InitLogger sets the default logger to a JSON logger at the given level.
func InitLogger(w io.Writer, level string) error {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})))
	return nil
}
