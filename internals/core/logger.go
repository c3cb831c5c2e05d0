package core

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// InitLogger wires the process-wide slog logger to stderr. Color is only
// used when stderr is a terminal, so redirected output stays clean.
func InitLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
