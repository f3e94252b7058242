package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrappedError(t *testing.T) {
	base := Validation("out of stock")
	wrapped := fmt.Errorf("create order: %w", base)

	assert.Equal(t, CodeValidation, CodeOf(wrapped))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, "out of stock", MessageOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "boom", MessageOf(err))
	assert.False(t, IsNotFound(nil))
}

func TestTransientUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient(cause, "inventory unreachable")

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
