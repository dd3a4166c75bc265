package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewSinkBreaker(3, 50*time.Millisecond)
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
		assert.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestSinkBreakerFastFailsWhenOpen(t *testing.T) {
	cb := NewSinkBreaker(1, time.Hour)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSinkBreakerHalfOpenSingleProbe(t *testing.T) {
	cb := NewSinkBreaker(1, 10*time.Millisecond)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(func() (interface{}, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestSinkBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewSinkBreaker(1, 10*time.Millisecond)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, errors.New("still down") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}
