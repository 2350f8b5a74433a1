package cli

import (
	"io"
	"log/slog"

	"github.com/voicebridge/voicebridge/internal/config"
)

// logLevel is shared by every handler so that config reloads take effect
// without rebuilding the logger.
var logLevel = new(slog.LevelVar)

func setupLogging(c *config.Config, out io.Writer, tty bool) error {
	level, err := config.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logLevel.Set(level)
	slog.SetDefault(slog.New(newLogHandler(c.LogFormat, out, tty)))
	return nil
}

// newLogHandler picks text output for terminals and JSON otherwise, unless
// format names one explicitly.
func newLogHandler(format string, out io.Writer, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case "json":
		return slog.NewJSONHandler(out, opts)
	case "text":
		return slog.NewTextHandler(out, opts)
	default:
		if tty {
			return slog.NewTextHandler(out, opts)
		}
		return slog.NewJSONHandler(out, opts)
	}
}

// applyReloadedConfig applies the keys that can change without a restart.
func applyReloadedConfig(c *config.Config) {
	level, err := config.ParseLevel(c.LogLevel)
	if err != nil {
		slog.Warn("ignoring reloaded log level", "error", err)
		return
	}
	if level != logLevel.Level() {
		logLevel.Set(level)
		slog.Info("log level changed", "level", level.String())
	}
}
