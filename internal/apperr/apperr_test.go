package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain sentinel", ErrOutOfStock, CodeOutOfStock},
		{"wrapped once", fmt.Errorf("borrow: %w", ErrAlreadyBorrowed), CodeAlreadyBorrowed},
		{"wrapped twice", fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrConflict)), CodeConflict},
		{"validation helper", Validation("rating must be between %d and %d", 1, 5), CodeValidation},
		{"unknown", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestFromCode(t *testing.T) {
	for _, c := range codes {
		assert.ErrorIs(t, FromCode(c.code), c.err)
	}
	assert.Nil(t, FromCode("no_such_code"))
	assert.Nil(t, FromCode(CodeInternal))
}

func TestValidationMessage(t *testing.T) {
	err := Validation("title is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation failed: title is required", err.Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("tx: %w", ErrConflict)))
	assert.False(t, Retryable(ErrOutOfStock))
}
