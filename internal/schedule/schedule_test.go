package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/schedule"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2025, time.July, 1, hour, minute, second, 0, time.UTC)
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		cadence time.Duration
		want    time.Duration
	}{
		{"late in boundary hour", at(10, 7, 0), time.Hour, 53 * time.Minute},
		{"early in boundary hour", at(10, 1, 0), time.Hour, 59 * time.Minute},
		{"one second into boundary hour", at(10, 0, 1), time.Hour, time.Hour - time.Second},
		{"exactly on the hour", at(10, 0, 0), time.Hour, time.Hour},
		{"just before the hour", at(10, 59, 30), time.Hour, 30 * time.Second},
		{"two hour cadence odd hour", at(11, 30, 0), 2 * time.Hour, 30 * time.Minute},
		{"two hour cadence even hour late", at(10, 7, 0), 2 * time.Hour, 113 * time.Minute},
		{"two hour cadence even hour early", at(10, 2, 0), 2 * time.Hour, 118 * time.Minute},
		{"wraps past midnight", at(23, 30, 0), 2 * time.Hour, 30 * time.Minute},
		{"sub-hour cadence rounds to an hour", at(10, 30, 0), 15 * time.Minute, 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := schedule.NextDelay(tt.now, tt.cadence)
			assert.Equal(t, tt.want, got)
			assert.Positive(t, got)
		})
	}
}

func TestNextBoundary_AlignedAndInFuture(t *testing.T) {
	start := at(0, 0, 0)
	for m := 0; m < 48*60; m += 7 {
		now := start.Add(time.Duration(m) * time.Minute)
		for _, cadence := range []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour} {
			next := schedule.NextBoundary(now, cadence)
			require.True(t, next.After(now), "now=%s cadence=%s", now, cadence)
			assert.Zero(t, next.Minute())
			assert.Zero(t, next.Hour()%int(cadence/time.Hour), "now=%s cadence=%s next=%s", now, cadence, next)
			assert.LessOrEqual(t, next.Sub(now), cadence+time.Hour)
		}
	}
}

func TestNextBoundary_RespectsLocation(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	now := time.Date(2025, time.July, 1, 13, 30, 0, 0, madrid)
	next := schedule.NextBoundary(now, 2*time.Hour)
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, madrid, next.Location())
}

func TestScheduler_FiresAtBoundaryThenEveryCadence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClockAt(at(10, 7, 0))
	s := schedule.New(schedule.Config{Cadence: time.Hour, Clock: fc, Logger: zerolog.Nop()})

	fired := make(chan time.Time, 4)
	s.Start(func() { fired <- fc.Now() })

	next, ok := s.NextFire()
	require.True(t, ok)
	assert.Equal(t, at(11, 0, 0), next)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(52 * time.Minute)
	select {
	case <-fired:
		t.Fatal("fired before the boundary")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(time.Minute)
	assert.Equal(t, at(11, 0, 0), waitFired(t, fired))

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Hour)
	assert.Equal(t, at(12, 0, 0), waitFired(t, fired))

	s.Cancel()
	_, ok = s.NextFire()
	assert.False(t, ok)
}

func TestScheduler_StartReplacesPreviousSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClockAt(at(10, 30, 0))
	s := schedule.New(schedule.Config{Clock: fc, Logger: zerolog.Nop()})

	var first, second atomic.Int32
	s.Start(func() { first.Add(1) })
	s.Start(func() { second.Add(1) })

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(30 * time.Minute)

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	s.Cancel()
}

func TestScheduler_CancelStopsFiring(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClockAt(at(10, 30, 0))
	s := schedule.New(schedule.Config{Clock: fc, Logger: zerolog.Nop()})

	var calls atomic.Int32
	s.Start(func() { calls.Add(1) })
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	s.Cancel()
	fc.Advance(3 * time.Hour)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestScheduler_Defaults(t *testing.T) {
	s := schedule.New(schedule.Config{Cadence: 90 * time.Minute})
	assert.Equal(t, time.Hour, s.Cadence())

	s = schedule.New(schedule.Config{Cadence: 2 * time.Hour})
	assert.Equal(t, 2*time.Hour, s.Cadence())
}

func waitFired(t *testing.T, fired <-chan time.Time) time.Time {
	t.Helper()
	select {
	case ts := <-fired:
		return ts
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not fire")
		return time.Time{}
	}
}
