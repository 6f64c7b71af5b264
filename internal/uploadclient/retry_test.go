package uploadclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusRetrierExhaustsBudget(t *testing.T) {
	r := newStatusRetrier()
	r.MaxRetries = 3

	require.True(t, r.ShouldRetry())
	require.True(t, r.ShouldRetry())
	require.True(t, r.ShouldRetry())
	require.False(t, r.ShouldRetry())
}

func TestStatusRetrierResetRestoresBudget(t *testing.T) {
	r := newStatusRetrier()
	r.MaxRetries = 1

	require.True(t, r.ShouldRetry())
	require.False(t, r.ShouldRetry())

	r.Reset()
	require.True(t, r.ShouldRetry())
}
