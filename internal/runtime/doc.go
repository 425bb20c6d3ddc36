// Package runtime wires storage, config, and the queue engine into a
// single-node taskqd instance. It exposes Open/Close and basic health checks
// used by the HTTP server and CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	id, _ := rt.Engine().Enqueue(ctx, cfg.GroupID, body)
package runtime
