package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrTimeout, CategoryTransient, "upstream timed out")
	assert.Equal(t, "[TIMEOUT] upstream timed out", err.Error())

	cause := errors.New("dial tcp: i/o timeout")
	wrapped := NewError(ErrConnectionReset, CategoryTransient, "connection lost").WithCause(cause)
	assert.Equal(t, "[CONNECTION_RESET] connection lost: dial tcp: i/o timeout", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestRetryableDerivedFromCategory(t *testing.T) {
	t.Parallel()

	assert.True(t, NewError(ErrTimeout, CategoryTransient, "x").Retryable)
	assert.False(t, NewError(ErrNotFound, CategoryPermanent, "x").Retryable)
	assert.False(t, NewError(ErrUserCancelled, CategoryUserCancelled, "x").Retryable)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(NewError(ErrTimeout, CategoryTransient, "x")))
	assert.False(t, IsRetryable(NewError(ErrNotFound, CategoryPermanent, "x")))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryTransient, CategoryOf(NewError(ErrTimeout, CategoryTransient, "x")))
	assert.Equal(t, CategoryPermanent, CategoryOf(errors.New("plain error")))
}

func TestErrorAsTarget(t *testing.T) {
	t.Parallel()

	var target *Error
	err := error(NewError(ErrCheckpointStoreFailure, CategoryPermanent, "disk full"))
	require.ErrorAs(t, err, &target)
	assert.Equal(t, ErrCheckpointStoreFailure, target.Code)
}
