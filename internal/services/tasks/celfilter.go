package tasksvc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/taskqd/taskqd/internal/queue"
)

// celFilter wraps a compiled CEL program used to narrow dead-letter listings.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("group", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("receive_count", cel.IntType),
		cel.Variable("enqueued_ms", cel.IntType),
		cel.Variable("dead_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Expose parsed JSON body (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a dead letter. When
// disabled, returns true.
func (f celFilter) Eval(dl queue.DeadLetter) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(dl.Body, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"group":         dl.GroupID,
		"reason":        dl.Reason,
		"receive_count": int64(dl.ReceiveCount),
		"enqueued_ms":   dl.EnqueuedAtMs,
		"dead_ms":       dl.DeadAtMs,
		"size":          int64(len(dl.Body)),
		"text":          string(dl.Body),
		"json":          jsonObj,
		"now_ms":        time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
