// Package consumer runs the ordered worker loop for a group: receive the head
// message under a lease, hand it to the handler, then ack or fail. One loop
// per group keeps delivery strictly sequential.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/taskqd/taskqd/internal/queue"
	"github.com/taskqd/taskqd/internal/task"
	"github.com/taskqd/taskqd/pkg/log"
)

// Handler processes one task. Returning an error triggers the retry path;
// handlers must tolerate redelivery of a task they already completed.
type Handler func(ctx context.Context, t task.Task) error

// Options configure a Loop.
type Options struct {
	Group        string
	Lease        time.Duration
	PollInterval time.Duration
	Handler      Handler
	Logger       log.Logger
}

// Loop polls a single group and drives messages through the handler.
type Loop struct {
	engine  *queue.Engine
	group   string
	lease   time.Duration
	poll    time.Duration
	handler Handler
	logger  log.Logger
}

// New builds a consumer loop. Group and Handler are required.
func New(engine *queue.Engine, opts Options) (*Loop, error) {
	if opts.Group == "" {
		return nil, errors.New("consumer: group is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("consumer: handler is required")
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Loop{
		engine:  engine,
		group:   opts.Group,
		lease:   opts.Lease,
		poll:    opts.PollInterval,
		handler: opts.Handler,
		logger:  logger.WithComponent("consumer").With(log.Str("group", opts.Group)),
	}, nil
}

// Run polls until ctx is canceled. Returns the ctx error on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("consumer started",
		log.Str("lease", l.lease.String()), log.Str("poll", l.poll.String()))
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("consumer stopped")
			return err
		}
		m, err := l.engine.Receive(ctx, l.group, l.lease)
		if err != nil {
			l.logger.Error("receive failed", log.Err(err))
			l.idle(ctx)
			continue
		}
		if m == nil {
			l.idle(ctx)
			continue
		}
		l.process(ctx, m)
	}
}

func (l *Loop) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.poll):
	}
}

func (l *Loop) process(ctx context.Context, m *queue.Message) {
	fields := []log.Field{
		log.Str("message_id", m.ID.String()),
		log.Int("receive_count", m.ReceiveCount),
	}

	tk, err := task.Decode(m.Body)
	if err != nil {
		// A body that cannot decode will never succeed; fail it through the
		// budget so it lands in the dead-letter queue with its receive count.
		l.logger.Error("malformed task body", append(fields, log.Err(err))...)
		if ferr := l.engine.Fail(ctx, m.ID, queue.ReasonHandlerFailed); ferr != nil {
			l.logger.Error("fail report failed", append(fields, log.Err(ferr))...)
		}
		return
	}
	fields = append(fields, log.Str("task_id", tk.TaskID))

	// The handler gets at most the lease to finish; past that the sweeper
	// will reclaim the message anyway.
	hctx, cancel := context.WithTimeout(ctx, l.lease)
	err = l.handler(hctx, tk)
	cancel()

	if err != nil {
		l.logger.Warn("handler failed", append(fields, log.Err(err))...)
		if ferr := l.engine.Fail(ctx, m.ID, queue.ReasonHandlerFailed); ferr != nil {
			l.logger.Error("fail report failed", append(fields, log.Err(ferr))...)
		}
		return
	}
	if err := l.engine.Ack(ctx, m.ID); err != nil {
		l.logger.Error("ack failed", append(fields, log.Err(err))...)
		return
	}
	l.logger.Info("task completed", fields...)
}
