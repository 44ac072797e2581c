package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fundwatch/internal/errors"
)

var errUpstream = errors.New("upstream down")

func failing(ctx context.Context) error { return errUpstream }
func passing(ctx context.Context) error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.InDelta(t, 75.0, stats.FailureRate(), 0.001)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("confirm", CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, passing)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("quote", DefaultCircuitBreakerConfig())
	v, err := ExecuteWithResult(context.Background(), cb, func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestHealthMonitorAggregates(t *testing.T) {
	m := NewHealthMonitor(time.Second)
	m.RegisterComponent("store", DatabaseHealthCheck(func(ctx context.Context) error { return nil }))
	m.RegisterComponent("push", StatsHealthCheck("connections", func() interface{} { return 3 }))

	open := NewCircuitBreaker("quote", CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	_ = open.Execute(context.Background(), failing)
	m.RegisterComponent("feeds", BreakerHealthCheck(open))

	health := m.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	require.Len(t, health.Components, 3)
	assert.Equal(t, "feeds", health.Components[0].Name)
	assert.Equal(t, 3, health.Components[1].Details["connections"])

	m.RegisterComponent("broken", func(ctx context.Context) ComponentHealth { panic("boom") })
	health = m.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}
