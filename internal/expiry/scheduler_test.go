package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fireLog struct {
	mu    sync.Mutex
	fired []string
}

func (f *fireLog) record(_ context.Context, number string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, number)
}

func (f *fireLog) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedulerFiresDueDeadline(t *testing.T) {
	log := &fireLog{}
	s := NewScheduler(log.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Arm("5550000001", time.Now().Add(20*time.Millisecond))
	waitFor(t, func() bool { return len(log.snapshot()) == 1 })
	require.Equal(t, []string{"5550000001"}, log.snapshot())
	require.Zero(t, s.Pending())
}

func TestSchedulerFiresInDeadlineOrder(t *testing.T) {
	log := &fireLog{}
	s := NewScheduler(log.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	now := time.Now()
	s.Arm("late", now.Add(80*time.Millisecond))
	s.Arm("early", now.Add(20*time.Millisecond))
	waitFor(t, func() bool { return len(log.snapshot()) == 2 })
	require.Equal(t, []string{"early", "late"}, log.snapshot())
}

func TestRearmSupersedesOldDeadline(t *testing.T) {
	log := &fireLog{}
	s := NewScheduler(log.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	now := time.Now()
	s.Arm("5550000001", now.Add(20*time.Millisecond))
	s.Arm("5550000001", now.Add(60*time.Millisecond))

	waitFor(t, func() bool { return len(log.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"5550000001"}, log.snapshot(), "stale deadline must not fire")
}

func TestDisarmDropsDeadline(t *testing.T) {
	log := &fireLog{}
	s := NewScheduler(log.record)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Arm("5550000001", time.Now().Add(20*time.Millisecond))
	s.Disarm("5550000001")
	time.Sleep(60 * time.Millisecond)
	require.Empty(t, log.snapshot())
	require.Zero(t, s.Pending())
}
