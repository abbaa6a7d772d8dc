package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, CodeConflict, Code(New(CodeConflict, "busy")))
	assert.Equal(t, CodeNotFound, Code(NotFound("money_request", "abc")))

	// Wrapped in plain fmt errors the code still surfaces.
	wrapped := fmt.Errorf("loading request: %w", New(CodeNotAuthorized, "nope"))
	assert.Equal(t, CodeNotAuthorized, Code(wrapped))

	// Uncoded errors fall back to internal.
	assert.Equal(t, CodeInternal, Code(errors.New("boom")))
}

func TestHasCode(t *testing.T) {
	err := Newf(CodeStepAlreadyDecided, "step %d decided", 2)
	assert.True(t, HasCode(err, CodeStepAlreadyDecided))
	assert.False(t, HasCode(err, CodeConflict))
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to debit fund")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to debit fund")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestInvalidInputCarriesField(t *testing.T) {
	err := InvalidInput("amount", "amount must be positive")
	assert.Equal(t, "amount", err.Field)
	assert.Equal(t, CodeInvalidInput, err.Code)
}
