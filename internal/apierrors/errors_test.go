package apierrors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentNotFound(t *testing.T) {
	err := ComponentNotFound("source", "items")
	assert.Equal(t, CodeComponentNotFound, err.Code)
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
	assert.Contains(t, err.Error(), "source")
	assert.Contains(t, err.Error(), "items")
}

func TestReadOnly(t *testing.T) {
	err := ReadOnly()
	assert.Equal(t, CodeReadOnly, err.Code)
	assert.Equal(t, http.StatusConflict, err.StatusCode)
}

func TestUnknownKind_EnumeratesKnownKinds(t *testing.T) {
	err := UnknownKind("source", "nonexistent", []string{"mock", "noop"})
	assert.Contains(t, err.Message, "nonexistent")
	assert.Contains(t, err.Message, "mock, noop")
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
}

func TestAs(t *testing.T) {
	err := Validation("bad field")
	assert.True(t, As(err, CodeValidation))
	assert.False(t, As(err, CodeInternal))
	assert.False(t, As(assertPlainError{}, CodeValidation))
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "plain" }

func TestToResponse(t *testing.T) {
	err := OperationFailed("source", "items", "start", assertPlainError{})
	resp := err.ToResponse()
	assert.Equal(t, "OPERATION_FAILED", resp.Code)
	assert.Equal(t, "plain", resp.Details)
}
