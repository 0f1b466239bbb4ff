package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = New(ErrInvalidState, "feature_already_applied")

func TestErrorMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("attach: %w", errSample.WithDetails(map[string]any{"design_id": "1"}))

	assert.True(t, errors.Is(err, errSample))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ErrInvalidState, KindOf(err))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "1", appErr.Details["design_id"])
	assert.Nil(t, errSample.Details)
}

func TestInsufficientFundsDetails(t *testing.T) {
	err := InsufficientFunds(40, 12)

	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, int64(40), err.Details["required"])
	assert.Equal(t, int64(12), err.Details["available"])
	assert.Nil(t, KindOf(errors.New("boom")))
}
