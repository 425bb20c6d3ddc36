package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/taskqd/taskqd/internal/config"
	"github.com/taskqd/taskqd/internal/queue"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	"github.com/taskqd/taskqd/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
}

// Runtime wires storage, config, and the queue engine for a single-node
// instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	engine *queue.Engine
}

// Open initializes the underlying storage and queue engine.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = opts.Config.DataDir
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	eng, err := queue.NewEngine(db, opts.Config.QueueName, queue.Options{
		Capacity:     opts.Config.Capacity,
		RetryBudget:  opts.Config.RetryBudget,
		DedupWindow:  opts.Config.DedupWindow(),
		DLQRetention: opts.Config.DLQRetention(),
	}, opts.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runtime{db: db, config: opts.Config, engine: eng}, nil
}

// Close stops the engine and closes underlying resources.
func (r *Runtime) Close() error {
	if r.engine != nil {
		r.engine.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Engine returns the queue engine.
func (r *Runtime) Engine() *queue.Engine { return r.engine }
