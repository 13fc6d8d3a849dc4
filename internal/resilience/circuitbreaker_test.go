package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := New(Config{Name: "t", FailureThreshold: 2, RecoveryTimeout: time.Hour, Timeout: time.Second})
	failing := func(context.Context) error { return errors.New("boom") }

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.Error(t, err, "open circuit must fail fast without calling fn")
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(Config{Name: "t", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 1, Timeout: time.Second})
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
