package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/datastore"
)

func TestAttemptQuota_WithinLimit(t *testing.T) {
	q := newAttemptQuota(3)

	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Check("r", nil), "attempt %d should be allowed", i+1)
	}
}

func TestAttemptQuota_ExceedsLimit(t *testing.T) {
	q := newAttemptQuota(2)
	require.NoError(t, q.Check("r", nil))
	require.NoError(t, q.Check("r", nil))

	conflict := datastore.ErrTransactionConflict
	err := q.Check("r", conflict)
	require.Error(t, err)

	var ae *AttemptsExhaustedError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "r", ae.Routine)
	assert.Equal(t, 2, ae.Attempts)
	assert.Equal(t, 2, ae.Limit)

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, datastore.ErrTransactionConflict)
	assert.True(t, IsAttemptsExhausted(err))
	assert.Contains(t, err.Error(), "ATTEMPTS_EXHAUSTED")
}

func TestAttemptQuota_MinimumOneAttempt(t *testing.T) {
	q := newAttemptQuota(0)
	assert.NoError(t, q.Check("r", nil))
	assert.Error(t, q.Check("r", nil))
}

func TestIsAttemptsExhausted_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("other"), &AttemptsExhaustedError{Routine: "r"})
	assert.True(t, IsAttemptsExhausted(err))
	assert.False(t, IsAttemptsExhausted(errors.New("plain")))
}
