package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version  string
	baseDir  string
	logFile  string
	logLevel string
	jsonOut  bool
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "possync",
	Short: "Offline-first local data layer for point-of-sale clients",
	Long: `possync - the offline-first data layer of the POS client.

Mirrors server-owned entities into a local store, queues mutations made while
disconnected, reconciles them against the server, and keeps open clients
coherent through the realtime change channel.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging routes slog to stderr, or to a rotating file when --log-file
// is given.
func setupLogging() {
	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w = os.Stderr
	if logFile != "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}, &slog.HandlerOptions{Level: level})))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// getBaseDir resolves the project directory: --dir flag, POSSYNC_DIR env,
// then the working directory.
func getBaseDir() string {
	if baseDir != "" {
		return baseDir
	}
	if v := os.Getenv("POSSYNC_DIR"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// normalizeFlags accepts underscore spellings, e.g. --log_file for --log-file.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func init() {
	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlags)
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "project directory (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetVersionTemplate(fmt.Sprintf("possync %s\n", "{{.Version}}"))
}
