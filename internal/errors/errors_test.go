package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	t.Parallel()

	t.Run("without cause", func(t *testing.T) {
		t.Parallel()
		err := NotFound("run not found")
		assert.Equal(t, "run not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("sql: no rows in result set")
		err := Wrap(cause, ErrCodeNotFound, "run not found")
		assert.Equal(t, "run not found: sql: no rows in result set", err.Error())
	})
}

func TestAppError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying")
	err := Wrap(cause, ErrCodeInternal, "wrapped")
	require.ErrorIs(t, err, cause)
}

func TestWrap_NilError(t *testing.T) {
	t.Parallel()

	require.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
	require.Nil(t, Wrapf(nil, ErrCodeInternal, "ignored %d", 1))
}

func TestCodePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("x"), IsNotFound},
		{"invalid transition", InvalidTransition("x"), IsInvalidTransition},
		{"validation", Validation("x"), IsValidation},
		{"conflict", Conflict("x"), IsConflict},
		{"transport", Transport("x"), IsTransport},
		{"internal", Internal("x"), IsInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestPredicates_MatchWrappedErrors(t *testing.T) {
	t.Parallel()

	inner := InvalidTransition("run 5 is already running")
	outer := fmt.Errorf("start run: %w", inner)

	assert.True(t, IsInvalidTransition(outer))
	assert.False(t, IsNotFound(outer))
	assert.Equal(t, ErrCodeInvalidTransition, GetCode(outer))
}

func TestValidationField(t *testing.T) {
	t.Parallel()

	err := ValidationField("reason", "rejection reason is required")
	assert.True(t, IsValidation(err))
	assert.Equal(t, "reason", GetField(err))
	assert.Empty(t, GetField(errors.New("plain")))
}

func TestGetCode_NonAppError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
}
