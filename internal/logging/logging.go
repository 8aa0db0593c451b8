package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init configures the default slog logger. Level comes from LOG_LEVEL.
// When LOG_FILE is set, output goes there instead of stderr; the room view
// owns the terminal while it runs, so stderr logging would tear the screen.
func Init() {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	var out io.Writer = os.Stderr
	if path, ok := os.LookupEnv("LOG_FILE"); ok && path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}
