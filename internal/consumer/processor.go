package consumer

import (
	"context"
	"sync"

	"github.com/taskqd/taskqd/internal/task"
	"github.com/taskqd/taskqd/pkg/log"
)

// Processor is the default task handler. It keeps an in-memory set of
// completed task ids so a redelivered message is acknowledged without doing
// the work twice. The set does not survive a restart; durable idempotency
// belongs to whatever system the task ultimately drives.
type Processor struct {
	mu     sync.Mutex
	done   map[string]struct{}
	logger log.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(logger log.Logger) *Processor {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Processor{
		done:   make(map[string]struct{}),
		logger: logger.WithComponent("processor"),
	}
}

// Handle processes one task.
func (p *Processor) Handle(ctx context.Context, t task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	_, seen := p.done[t.TaskID]
	p.mu.Unlock()
	if seen {
		p.logger.Warn("task already processed, skipping", log.Str("task_id", t.TaskID))
		return nil
	}

	p.logger.Info("processing task",
		log.Str("task_id", t.TaskID),
		log.Str("title", t.Title),
		log.Str("priority", t.Priority),
		log.Str("due_date", t.DueDate),
		log.Str("created_at", t.CreatedAt))

	p.mu.Lock()
	p.done[t.TaskID] = struct{}{}
	p.mu.Unlock()
	return nil
}

// Processed reports whether a task id has been completed by this instance.
func (p *Processor) Processed(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.done[taskID]
	return ok
}
