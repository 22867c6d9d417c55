package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStartsAtBase(t *testing.T) {
	st := NewState(DefaultSettings())

	d, st := Next(st)
	assert.Equal(t, 100*time.Microsecond, d)

	d, st = Next(st)
	assert.Equal(t, 200*time.Microsecond, d)

	d, _ = Next(st)
	assert.Equal(t, 300*time.Microsecond, d)
}

func TestNextMonotonicAndCapped(t *testing.T) {
	st := NewState(DefaultSettings())
	var prev time.Duration

	for i := 0; i < 1000; i++ {
		var d time.Duration
		d, st = Next(st)
		require.GreaterOrEqual(t, d, prev, "failure %d", i)
		require.LessOrEqual(t, d, DefaultMax, "failure %d", i)
		prev = d
	}
	assert.Equal(t, DefaultMax, prev)
}

func TestNextReachesCeilingAfter100Failures(t *testing.T) {
	st := NewState(DefaultSettings())
	var d time.Duration
	for i := 0; i < 100; i++ {
		d, st = Next(st)
	}
	assert.Equal(t, DefaultMax, d)

	d, _ = Next(st)
	assert.Equal(t, DefaultMax, d)
}

func TestSettingsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Settings
		want Settings
	}{
		{
			name: "zero uses defaults",
			in:   Settings{},
			want: Settings{Base: DefaultBase, Step: 0, Max: DefaultMax},
		},
		{
			name: "base above max is clamped",
			in:   Settings{Base: time.Second, Step: time.Millisecond, Max: 10 * time.Millisecond},
			want: Settings{Base: 10 * time.Millisecond, Step: time.Millisecond, Max: 10 * time.Millisecond},
		},
		{
			name: "negative step disables growth",
			in:   Settings{Base: time.Millisecond, Step: -time.Millisecond, Max: time.Second},
			want: Settings{Base: time.Millisecond, Step: 0, Max: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalize())
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	l := NewLinear(DefaultSettings())

	assert.Equal(t, 100*time.Microsecond, l.NextBackOff())
	assert.Equal(t, 200*time.Microsecond, l.NextBackOff())
	assert.Equal(t, 300*time.Microsecond, l.Current())

	l.Reset()
	assert.Equal(t, 100*time.Microsecond, l.NextBackOff())
}

func TestLinearDrivesRetryNotify(t *testing.T) {
	l := NewLinear(DefaultSettings())
	errBusy := errors.New("busy")

	var delays []time.Duration
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		if attempts < 5 {
			return errBusy
		}
		return nil
	}, backoff.WithContext(l, context.Background()), func(_ error, d time.Duration) {
		delays = append(delays, d)
	})

	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []time.Duration{
		100 * time.Microsecond,
		200 * time.Microsecond,
		300 * time.Microsecond,
		400 * time.Microsecond,
	}, delays)
}

func TestLinearSleepInterruptedByContext(t *testing.T) {
	l := NewLinear(Settings{Base: time.Hour, Step: time.Hour, Max: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	errBusy := errors.New("busy")

	done := make(chan error, 1)
	go func() {
		done <- backoff.RetryNotify(func() error { return errBusy }, backoff.WithContext(l, ctx), nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errBusy)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
