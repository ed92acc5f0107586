package reset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/numbot/core/logger"
)

// DefaultSpec wipes the pool nightly at 02:00.
const DefaultSpec = "0 2 * * *"

// SlotWiper empties the slots table.
type SlotWiper interface {
	DeleteAll(ctx context.Context) (int64, error)
}

// CounterResetter zeroes the slot counter.
type CounterResetter interface {
	Reset(ctx context.Context) error
}

// SessionClearer wipes in-memory pending state without ending shifts.
type SessionClearer interface {
	ClearAllPending()
}

// RingResetter clears the allocator's recently-issued memory.
type RingResetter interface {
	ResetRing()
}

// Sweeper runs the stats retention sweep.
type Sweeper interface {
	RetentionSweep(ctx context.Context) error
}

// NotifyFunc reports a completed reset, typically to the admin chat.
type NotifyFunc func(ctx context.Context, deleted int64)

// Service schedules the nightly pool reset and the stats retention sweep.
type Service struct {
	slots    SlotWiper
	counter  CounterResetter
	sessions SessionClearer
	ring     RingResetter
	sweeper  Sweeper
	notify   NotifyFunc

	now  func() time.Time
	cron *cron.Cron

	mu        sync.Mutex
	lastReset time.Time
}

// NewService constructs the reset service. notify may be nil; now may be nil
// for the wall clock.
func NewService(slots SlotWiper, counter CounterResetter, sessions SessionClearer, ring RingResetter, sweeper Sweeper, notify NotifyFunc, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		slots:    slots,
		counter:  counter,
		sessions: sessions,
		ring:     ring,
		sweeper:  sweeper,
		notify:   notify,
		now:      now,
	}
}

// Start registers the cron job and begins scheduling. spec is a standard
// 5-field cron expression; empty selects DefaultSpec.
func (s *Service) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := s.Run(ctx); err != nil {
			logger.Error(ctx, "service.reset", "reset.failed",
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("reset schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	logger.Info(ctx, "service.reset", "scheduler.started", slog.String("spec", spec))
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Run performs one reset: wipe the pool, zero the counter, clear session
// state and the issue ring, sweep stats retention, notify. A second call on
// the same day is a no-op, but a failed run leaves the guard unset so a retry
// the same day still goes through.
func (s *Service) Run(ctx context.Context) error {
	today := s.today()
	s.mu.Lock()
	if s.lastReset.Equal(today) {
		s.mu.Unlock()
		logger.Debug(ctx, "service.reset", "reset.already_done")
		return nil
	}
	s.lastReset = today
	s.mu.Unlock()

	deleted, err := s.slots.DeleteAll(ctx)
	if err != nil {
		s.unclaim()
		return fmt.Errorf("reset slots: %w", err)
	}
	if err := s.counter.Reset(ctx); err != nil {
		s.unclaim()
		return fmt.Errorf("reset counter: %w", err)
	}
	s.sessions.ClearAllPending()
	s.ring.ResetRing()

	if s.sweeper != nil {
		if err := s.sweeper.RetentionSweep(ctx); err != nil {
			logger.Warn(ctx, "service.reset", "retention.failed",
				slog.String("error", err.Error()))
		}
	}

	logger.Info(ctx, "service.reset", "reset.done",
		slog.Int64("slots_deleted", deleted))
	if s.notify != nil {
		s.notify(ctx, deleted)
	}
	return nil
}

func (s *Service) unclaim() {
	s.mu.Lock()
	s.lastReset = time.Time{}
	s.mu.Unlock()
}

func (s *Service) today() time.Time {
	t := s.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
