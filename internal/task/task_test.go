package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() CreateRequest {
	return CreateRequest{
		Title:       "Complete project documentation",
		Description: "Write comprehensive documentation for the API",
		Priority:    PriorityHigh,
		DueDate:     "2026-01-15T18:00:00Z",
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	req := validRequest()
	req.Normalize()
	assert.NoError(t, req.Validate())

	req.DueDate = ""
	assert.NoError(t, req.Validate(), "due_date is optional")
}

func TestNormalizeTrimsAndLowercases(t *testing.T) {
	req := CreateRequest{
		Title:       "  padded title  ",
		Description: "\tbody\n",
		Priority:    " HIGH ",
	}
	req.Normalize()
	assert.Equal(t, "padded title", req.Title)
	assert.Equal(t, "body", req.Description)
	assert.Equal(t, "high", req.Priority)
	assert.NoError(t, req.Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"missing title", func(r *CreateRequest) { r.Title = "" }, "title"},
		{"whitespace-only title", func(r *CreateRequest) { r.Title = "   " }, "title"},
		{"title too long", func(r *CreateRequest) { r.Title = strings.Repeat("x", 201) }, "title"},
		{"missing description", func(r *CreateRequest) { r.Description = "" }, "description"},
		{"description too long", func(r *CreateRequest) { r.Description = strings.Repeat("x", 2001) }, "description"},
		{"missing priority", func(r *CreateRequest) { r.Priority = "" }, "priority"},
		{"unknown priority", func(r *CreateRequest) { r.Priority = "urgent" }, "priority"},
		{"malformed due date", func(r *CreateRequest) { r.DueDate = "tomorrow" }, "due_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			req.Normalize()

			err := req.Validate()
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tc.field)
		})
	}
}

func TestNewAssignsIdentityAndStatus(t *testing.T) {
	fixed := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	req := validRequest()
	req.Normalize()
	got := New(req)

	assert.NotEmpty(t, got.TaskID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "2026-01-10T12:00:00Z", got.CreatedAt)
	assert.Equal(t, req.Title, got.Title)
	assert.Equal(t, req.DueDate, got.DueDate)

	other := New(req)
	assert.NotEqual(t, got.TaskID, other.TaskID)
}

func TestEncodeDecode(t *testing.T) {
	orig := New(validRequest())
	body, err := orig.Encode()
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)
}
