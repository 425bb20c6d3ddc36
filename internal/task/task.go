// Package task defines the task payload accepted by the producer API and the
// canonical record carried through the queue.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Priority levels a task may carry.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// StatusQueued is the only status a freshly accepted task can have; downstream
// processing owns later transitions.
const StatusQueued = "queued"

var validate = validator.New()

// CreateRequest is the producer-facing payload for creating a task.
type CreateRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"required,min=1,max=2000"`
	Priority    string `json:"priority" validate:"required,oneof=low medium high"`
	// DueDate is an optional RFC 3339 timestamp.
	DueDate string `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Normalize strips surrounding whitespace from the string fields. Length
// limits apply to the trimmed values, so this runs before Validate.
func (r *CreateRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Priority = strings.TrimSpace(strings.ToLower(r.Priority))
	r.DueDate = strings.TrimSpace(r.DueDate)
}

// Validate checks the request against the field constraints and returns a
// *ValidationError describing every violated field.
func (r *CreateRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		ve.Fields[jsonField(fe.Field())] = fieldMessage(fe)
	}
	return ve
}

// ValidationError reports why a create request was rejected, keyed by the
// JSON field name.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "task: invalid request: " + strings.Join(parts, "; ")
}

func jsonField(structField string) string {
	switch structField {
	case "Title":
		return "title"
	case "Description":
		return "description"
	case "Priority":
		return "priority"
	case "DueDate":
		return "due_date"
	default:
		return strings.ToLower(structField)
	}
}

func fieldMessage(fe validator.FieldError) string {
	field := jsonField(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return field + " must be an RFC 3339 timestamp"
	default:
		return field + " is invalid"
	}
}

// Task is the accepted record, serialized as the queue message body and
// echoed back to the producer.
type Task struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date,omitempty"`
	CreatedAt   string `json:"created_at"`
	Status      string `json:"status"`
}

// Clock hook for tests.
var now = time.Now

// New builds a Task from a normalized, validated request.
func New(req CreateRequest) Task {
	return Task{
		TaskID:      uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		CreatedAt:   now().UTC().Format(time.RFC3339),
		Status:      StatusQueued,
	}
}

// Encode serializes the task for the queue body.
func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a queue body back into a Task.
func Decode(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("task: decode body: %w", err)
	}
	return t, nil
}
