package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the process-wide slog handler, tagging every record with the
// service name. Supported formats: "json" (default), "text".
func Init(service, format string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))

	var handler slog.Handler
	known := true
	switch format {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stdout, nil)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, nil)
	default:
		handler = slog.NewJSONHandler(os.Stdout, nil)
		known = false
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if !known {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	return logger
}
