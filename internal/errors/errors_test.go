package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := NotFoundError("job job-9")

	assert.Equal(t, "job job-9 not found", err.Error())
	assert.Equal(t, http.StatusNotFound, err.StatusCode)

	var target *APIError
	assert.True(t, errors.As(error(err), &target))
}

func TestPredefinedErrorsAreNotModified(t *testing.T) {
	invalid := InvalidRequestWithError(errors.New("unexpected EOF"))
	assert.Equal(t, "INVALID_REQUEST", invalid.ErrorCode)
	assert.Equal(t, "unexpected EOF", invalid.Details)

	tooLarge := PayloadTooLarge(2048)
	assert.Equal(t, http.StatusRequestEntityTooLarge, tooLarge.StatusCode)
	assert.Equal(t, "Upload exceeds the limit of 2048 bytes", tooLarge.Message)
	assert.Equal(t, map[string]int64{"max_bytes": 2048}, tooLarge.Details)

	notFound := NotFoundError("metrics")
	assert.Equal(t, "NOT_FOUND", notFound.ErrorCode)

	assert.Nil(t, ErrInvalidRequest.Details)
	assert.Nil(t, ErrPayloadTooLarge.Details)
	assert.Equal(t, "Upload exceeds the maximum allowed size", ErrPayloadTooLarge.Message)
	assert.Equal(t, "Resource not found", ErrNotFound.Message)
	assert.Nil(t, ErrValidationFailed.Details)
}

func TestNewValidationErrors(t *testing.T) {
	err := NewValidationErrors([]ValidationError{
		{Field: "wells", Message: "wells must contain at least 1 item"},
		{Field: "pad", Message: "pad is required"},
	})

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", err.ErrorCode)
	details, ok := err.Details.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, details.Errors, 2)
}

func TestProblemDetails_JSON(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeJobExists, "Job Already Exists", "job already exists", "/api/jobs").
		WithExtension("job_id", "job-1")

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "job-1", flat["job_id"])
	assert.Equal(t, float64(409), flat["status"])

	var back ProblemDetails
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.Type, back.Type)
	assert.Equal(t, p.Title, back.Title)
	assert.Equal(t, p.Instance, back.Instance)
	assert.Equal(t, "job-1", back.Extensions["job_id"])
}

func TestProblemDetails_ExtensionsCannotShadowMembers(t *testing.T) {
	p := NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "", "").
		WithExtension("status", 200)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, float64(404), flat["status"])
	assert.NotContains(t, flat, "detail")
}
