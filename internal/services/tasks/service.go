package tasksvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskqd/taskqd/internal/queue"
	"github.com/taskqd/taskqd/internal/runtime"
	"github.com/taskqd/taskqd/internal/task"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

// Service provides task admission and queue inspection on top of the runtime.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// New creates a task service with a default logger.
func New(rt *runtime.Runtime) *Service {
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	return NewWithLogger(rt, logger)
}

// NewWithLogger creates a task service with a custom logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Service{rt: rt, logger: logger.WithComponent("tasks")}
}

// CreateResult is the admission outcome returned to the producer.
type CreateResult struct {
	Task      task.Task `json:"task"`
	MessageID string    `json:"message_id"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// CreateTask validates and admits a task. Identical submissions inside the
// dedup window collapse onto the original admission: the result carries the
// original message id, the original task when it is still queued, and
// Duplicate set. Validation failures return a *task.ValidationError.
func (s *Service) CreateTask(ctx context.Context, req task.CreateRequest) (CreateResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return CreateResult{}, err
	}

	tk := task.New(req)
	body, err := tk.Encode()
	if err != nil {
		return CreateResult{}, err
	}

	// The fingerprint covers the submitted content only. The stored body
	// carries a server-assigned task id and timestamp, so hashing it would
	// never collide for retried submissions.
	res, err := s.rt.Engine().EnqueueKeyed(ctx, s.rt.Config().GroupID, submissionFingerprint(req), body)
	if err != nil {
		return CreateResult{}, err
	}

	if res.Duplicate {
		out := CreateResult{MessageID: res.MessageID.String(), Duplicate: true}
		// Echo the original task if it is still queued. It may already be
		// consumed while its fingerprint lingers; the message id alone still
		// identifies the admission.
		if m, err := s.rt.Engine().Get(res.MessageID); err == nil {
			if orig, err := task.Decode(m.Body); err == nil {
				out.Task = orig
			}
		}
		s.logger.Info("duplicate task suppressed",
			logpkg.Str("message_id", out.MessageID))
		return out, nil
	}

	s.logger.Info("task accepted",
		logpkg.Str("task_id", tk.TaskID),
		logpkg.Str("message_id", res.MessageID.String()),
		logpkg.Str("priority", tk.Priority))
	return CreateResult{Task: tk, MessageID: res.MessageID.String()}, nil
}

// submissionFingerprint hashes the normalized request fields. json.Marshal
// emits struct fields in declaration order, so the encoding is stable.
func submissionFingerprint(req task.CreateRequest) string {
	payload, _ := json.Marshal(req)
	return queue.Fingerprint(payload)
}

// ListDeadLetters returns dead letters for a group (all groups when empty),
// optionally narrowed by a CEL filter expression over the entry fields and
// parsed body. limit <= 0 means no limit.
func (s *Service) ListDeadLetters(group, filterExpr string, limit int) ([]queue.DeadLetter, error) {
	filter, err := newCELFilter(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("tasks: invalid filter: %w", err)
	}
	entries, err := s.rt.Engine().DeadLetters().List(group, 0)
	if err != nil {
		return nil, err
	}
	out := make([]queue.DeadLetter, 0, len(entries))
	for _, dl := range entries {
		if !filter.Eval(dl) {
			continue
		}
		out = append(out, dl)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Stats reports queue state for a group, defaulting to the configured group.
func (s *Service) Stats(group string) (queue.Stats, error) {
	if group == "" {
		group = s.rt.Config().GroupID
	}
	return s.rt.Engine().GroupStats(group)
}

// Health checks the underlying storage.
func (s *Service) Health(ctx context.Context) error {
	return s.rt.CheckHealth(ctx)
}
