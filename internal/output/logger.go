/*
PURPOSE:
  Provides a structured logger for voicebench.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.
  - Agent stdout is echoed for operator visibility.

  Implementation-discovered:
  - Needs to support Debug/Info/Warn/Error levels.
  - JSON handler for non-interactive runs (CI).

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - Unknown level/format strings return an error from Configure.

IMPLEMENTATION RULES:
  - Use `log/slog` (Go 1.21+).
  - Logs go to stderr so the report on stdout stays clean.

USAGE:
  output.Logger.Info("message", "key", "value")

SELF-HEALING INSTRUCTIONS:
  - Ensure Go 1.21+ is used.

RELATED FILES:
  - internal/cli/root.go (--log-level, --log-format)

MAINTENANCE:
  - None.
*/

package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}

// Configure rebuilds Logger from CLI flags.
func Configure(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		Logger = slog.New(slog.NewTextHandler(w, opts))
	case "json":
		Logger = slog.New(slog.NewJSONHandler(w, opts))
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}
