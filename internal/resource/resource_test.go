package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() config.ResourceConfig {
	return config.ResourceConfig{MaxConcurrent: 2, MaxMemoryBytes: 1000}
}

func TestAcquire_AdmitsWithinBudget(t *testing.T) {
	m := New(testCfg())
	lease, err := m.Acquire(context.Background(), "q1", 100)
	require.NoError(t, err)
	require.NotNil(t, lease)

	stats := m.Stats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, int64(100), stats.UsedMemory)
}

func TestAcquire_RejectsOverConcurrency(t *testing.T) {
	m := New(testCfg())
	_, err := m.Acquire(context.Background(), "q1", 10)
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), "q2", 10)
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "q3", 10)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ClassCapacity, appErr.Class)
}

func TestAcquire_RejectsOverMemoryBudget(t *testing.T) {
	m := New(testCfg())
	_, err := m.Acquire(context.Background(), "q1", 2000)
	require.Error(t, err)
}

func TestRelease_FreesSlotAndMemory(t *testing.T) {
	m := New(testCfg())
	lease, err := m.Acquire(context.Background(), "q1", 500)
	require.NoError(t, err)

	lease.Release()

	stats := m.Stats()
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, int64(0), stats.UsedMemory)

	// a slot freed by Release can be re-acquired
	_, err = m.Acquire(context.Background(), "q2", 500)
	assert.NoError(t, err)
}

func TestRelease_IsIdempotent(t *testing.T) {
	m := New(testCfg())
	lease, err := m.Acquire(context.Background(), "q1", 100)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	assert.Equal(t, 0, m.Stats().InFlight)
}

func TestCancelByID_CancelsLeaseContext(t *testing.T) {
	m := New(testCfg())
	lease, err := m.Acquire(context.Background(), "q1", 100)
	require.NoError(t, err)

	assert.True(t, m.CancelByID("q1"))

	select {
	case <-lease.Context().Done():
	default:
		t.Fatal("expected lease context to be canceled")
	}
}

func TestCancelByID_UnknownIDReturnsFalse(t *testing.T) {
	m := New(testCfg())
	assert.False(t, m.CancelByID("absent"))
}
