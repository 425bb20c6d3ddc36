package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/taskqd/taskqd/internal/cmd/client"
	serverrun "github.com/taskqd/taskqd/internal/cmd/server"
	cfgpkg "github.com/taskqd/taskqd/internal/config"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

func main() {
	// Respect TASKQ_LOG_LEVEL for both CLI and server start output.
	level := os.Getenv("TASKQ_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger.
	logpkg.RedirectStdLog(logger)

	rootCmd := clientcmd.NewRoot()
	rootCmd.Short = "taskqd task queue"
	rootCmd.Long = "taskqd is a single-binary ordered task queue. This CLI manages the server and talks to its HTTP API."

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the taskqd server (HTTP API, sweeper, worker)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			worker, _ := cmd.Flags().GetBool("worker")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)

			if logLevel != "" {
				_ = os.Setenv("TASKQ_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("TASKQ_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
				Worker:        worker,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "data directory (default: OS data dir)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default from config)")
	serverStartCmd.Flags().String("config", "", "path to JSON config file")
	serverStartCmd.Flags().String("fsync", "always", "WAL fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "group commit window for --fsync=interval")
	serverStartCmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "log format: text|json")
	serverStartCmd.Flags().Bool("worker", true, "run the in-process consumer loop")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
