package logging

import (
	"io"
	"log/slog"
	"os"
)

// Environment names understood by Setup.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Setup builds the process logger for the given environment.
// local writes human readable text at debug level, dev writes JSON at
// debug level and prod writes JSON at info level. debug forces the debug
// level regardless of environment.
func Setup(env string, debug bool) *slog.Logger {
	return SetupWriter(os.Stderr, env, debug)
}

// SetupWriter is Setup with an explicit output writer.
func SetupWriter(w io.Writer, env string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if env == EnvLocal || env == EnvDev || debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch env {
	case EnvDev, EnvProd:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
