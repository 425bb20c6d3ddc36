package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/taskqd/taskqd/internal/config"
	"github.com/taskqd/taskqd/internal/consumer"
	"github.com/taskqd/taskqd/internal/runtime"
	httpserver "github.com/taskqd/taskqd/internal/server/http"
	tasksvc "github.com/taskqd/taskqd/internal/services/tasks"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Worker disables the in-process consumer loop when false; the queue then
	// only accumulates until a worker-enabled instance runs against the data.
	Worker bool
}

// Run starts the HTTP server, the sweeper, and (optionally) the in-process
// consumer loop, then blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = opts.Config.DataDir
	}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = opts.Config.HTTPAddr
	}

	procLogger := logpkg.FromConfig(logpkg.Config{
		Level:  getenvDefault("TASKQ_LOG_LEVEL", "info"),
		Format: getenvDefault("TASKQ_LOG_FORMAT", "text"),
	})

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting taskqd server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", storeDir),
		logpkg.Str("queue", opts.Config.QueueName),
		logpkg.Str("group", opts.Config.GroupID),
		logpkg.Bool("worker", opts.Worker))

	rt.Engine().StartSweeper(opts.Config.SweepInterval(), 256)

	svc := tasksvc.NewWithLogger(rt, procLogger)
	hsrv := httpserver.New(rt, svc, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	if opts.Worker {
		proc := consumer.NewProcessor(procLogger)
		loop, err := consumer.New(rt.Engine(), consumer.Options{
			Group:        opts.Config.GroupID,
			Lease:        opts.Config.Lease(),
			PollInterval: opts.Config.PollInterval(),
			Handler:      proc.Handle,
			Logger:       procLogger,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Run(sctx)
		}()
	}

	<-sctx.Done()
	// Shut servers down before closing the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
