package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type wipeCount struct {
	calls int
	fail  int
}

func (w *wipeCount) DeleteAll(context.Context) (int64, error) {
	w.calls++
	if w.fail > 0 {
		w.fail--
		return 0, errors.New("connection refused")
	}
	return 3, nil
}

type counterCount struct{ calls int }

func (c *counterCount) Reset(context.Context) error {
	c.calls++
	return nil
}

type clearCount struct{ calls int }

func (c *clearCount) ClearAllPending() { c.calls++ }

type ringCount struct{ calls int }

func (r *ringCount) ResetRing() { r.calls++ }

type sweepCount struct{ calls int }

func (s *sweepCount) RetentionSweep(context.Context) error {
	s.calls++
	return nil
}

func TestRunResetsEverythingOnce(t *testing.T) {
	ctx := context.Background()
	slots := &wipeCount{}
	counter := &counterCount{}
	sessions := &clearCount{}
	ring := &ringCount{}
	sweeper := &sweepCount{}

	var notified int64
	day := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	svc := NewService(slots, counter, sessions, ring, sweeper,
		func(_ context.Context, deleted int64) { notified = deleted },
		func() time.Time { return day },
	)

	require.NoError(t, svc.Run(ctx))
	require.Equal(t, 1, slots.calls)
	require.Equal(t, 1, counter.calls)
	require.Equal(t, 1, sessions.calls)
	require.Equal(t, 1, ring.calls)
	require.Equal(t, 1, sweeper.calls)
	require.EqualValues(t, 3, notified)

	// Same day again: guarded no-op.
	require.NoError(t, svc.Run(ctx))
	require.Equal(t, 1, slots.calls)

	// Next day: runs again.
	day = day.AddDate(0, 0, 1)
	require.NoError(t, svc.Run(ctx))
	require.Equal(t, 2, slots.calls)
}

func TestRunRetriesSameDayAfterFailure(t *testing.T) {
	ctx := context.Background()
	slots := &wipeCount{fail: 1}
	counter := &counterCount{}
	sessions := &clearCount{}
	ring := &ringCount{}

	day := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	svc := NewService(slots, counter, sessions, ring, nil, nil,
		func() time.Time { return day },
	)

	require.Error(t, svc.Run(ctx))
	require.Equal(t, 0, counter.calls)

	// A failed wipe must not claim the day; the retry performs the reset.
	require.NoError(t, svc.Run(ctx))
	require.Equal(t, 2, slots.calls)
	require.Equal(t, 1, counter.calls)
	require.Equal(t, 1, sessions.calls)

	// And the guard holds after the successful pass.
	require.NoError(t, svc.Run(ctx))
	require.Equal(t, 2, slots.calls)
}
