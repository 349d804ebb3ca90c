package cli

import (
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// silent is above every level the transform logs at.
const silent = slog.Level(100)

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "silent":
		return silent, nil
	}
	return 0, transformer.NewConfigError("LogLevel", s, "expected debug, info, warn, error or silent")
}

func colorLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch level {
	case slog.LevelInfo:
		a.Value = slog.StringValue(color.GreenString("INFO"))
	case slog.LevelWarn:
		a.Value = slog.StringValue(color.YellowString("WARN"))
	case slog.LevelError:
		a.Value = slog.StringValue(color.RedString("ERROR"))
	}
	return a
}

// NewLogger returns a text or JSON logger writing to w.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: colorLevel,
	})), nil
}
