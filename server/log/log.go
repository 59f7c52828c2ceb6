package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gammadia/workloads/server/flags"
	"github.com/spf13/viper"
)

// For some reason, gopls imports a bad package when using a package-global variable 'log'
// Let's move it to an actual package so that it doesn't get confused...

// Base is a bare logger without attributes
var Base = slog.New(slog.NewTextHandler(io.Discard, nil))

// logger is the server logger with default attributes
var logger = Base

func Init() error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	handler, err := newHandler(viper.GetString(flags.LogFormat), &slog.HandlerOptions{
		AddSource: viper.GetBool(flags.LogSource),
		Level:     logLevel,
	})
	if err != nil {
		return err
	}

	Base = slog.New(handler)
	logger = Base.With("component", "server")
	slog.SetDefault(Base)
	return nil
}

func newHandler(format string, options *slog.HandlerOptions) (slog.Handler, error) {
	switch format {
	case "json":
		return slog.NewJSONHandler(os.Stdout, options), nil
	case "text":
		return slog.NewTextHandler(os.Stdout, options), nil
	default:
		return nil, fmt.Errorf("unknown log format '%s'", format)
	}
}

// Proxies for slog.Logger methods

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}
