package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/onedrived/onedrived/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagLogLevel string
	flagLogFile  string
)

// levelCritical is one step above slog's built-in error level, matching the
// five-level scheme the --log-level flag accepts.
const levelCritical = slog.LevelError + 4

// Log rotation bounds for --log-file output.
const (
	logFileMaxSizeMB = 10
	logFileBackups   = 3
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onedrived",
		Short:   "OneDrive synchronization daemon",
		Long:    "A continuous OneDrive synchronization daemon for Linux and macOS.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "",
		"write logs to this file instead of stderr")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// buildLogger creates an slog.Logger from config and CLI flags. The config
// file provides the baseline level and format; --log-level wins over the
// file because CLI flags always do.
func buildLogger(cfg *config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if flagLogLevel != "" {
		level = parseLevel(flagLogLevel)
	}

	out, toFile := logDestination()

	var handler slog.Handler

	switch effectiveFormat(cfg.LogFormat, toFile) {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// logDestination picks the log writer: a rotating file when --log-file is
// set and writable, stderr otherwise. An unwritable log file downgrades to
// stderr with a warning rather than killing the daemon.
func logDestination() (w io.Writer, toFile bool) {
	if flagLogFile == "" {
		return os.Stderr, false
	}

	probe, err := os.OpenFile(flagLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: log file %s is not writable (%v), logging to stderr\n",
			flagLogFile, err)

		return os.Stderr, false
	}

	probe.Close()

	return &lumberjack.Logger{
		Filename:   flagLogFile,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileBackups,
	}, true
}

// effectiveFormat resolves the "auto" log format: text on a terminal, JSON
// for files and pipes.
func effectiveFormat(format string, toFile bool) string {
	switch format {
	case "text", "json":
		return format
	}

	if toFile || !isatty.IsTerminal(os.Stderr.Fd()) {
		return "json"
	}

	return "text"
}

// parseLevel maps a level name to its slog level. Unknown names fall back
// to debug, the daemon's default.
func parseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "INFO":
		return slog.LevelInfo
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return levelCritical
	default:
		return slog.LevelDebug
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
