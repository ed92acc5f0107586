package expiry

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/numbot/core/logger"
)

// FinalizeFunc resolves a fired deadline for a number.
type FinalizeFunc func(ctx context.Context, number string)

type entry struct {
	number string
	at     time.Time
}

type deadlineHeap []entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Scheduler arms one-shot deadlines per number and drains them from a single
// goroutine. Re-arming a number supersedes its previous deadline: the heap may
// hold stale entries, but only the entry matching the armed map fires.
type Scheduler struct {
	finalize FinalizeFunc

	mu    sync.Mutex
	heap  deadlineHeap
	armed map[string]time.Time
	wake  chan struct{}
}

// NewScheduler constructs a Scheduler that calls finalize on every fired
// deadline. Run must be started for deadlines to fire.
func NewScheduler(finalize FinalizeFunc) *Scheduler {
	return &Scheduler{
		finalize: finalize,
		armed:    make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
	}
}

// Arm schedules a deadline for the number, replacing any previous one.
func (s *Scheduler) Arm(number string, at time.Time) {
	s.mu.Lock()
	s.armed[number] = at
	heap.Push(&s.heap, entry{number: number, at: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	logger.Debug(context.Background(), "service.expiry", "deadline.armed",
		slog.String("number", number),
		slog.Int64("deadline_s", int64(time.Until(at).Seconds())),
	)
}

// Disarm drops the number's pending deadline, if any.
func (s *Scheduler) Disarm(number string) {
	s.mu.Lock()
	delete(s.armed, number)
	s.mu.Unlock()
}

// Pending reports how many numbers currently hold an armed deadline.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// Run drains deadlines until ctx is canceled. Call in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info(ctx, "service.expiry", "scheduler.started")
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		next, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				logger.Info(ctx, "service.expiry", "scheduler.stopped")
				return
			case <-s.wake:
			}
			continue
		}

		wait := time.Until(next.at)
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				logger.Info(ctx, "service.expiry", "scheduler.stopped")
				return
			case <-s.wake:
				continue
			case <-timer.C:
			}
		}
		s.fire(ctx)
	}
}

// next peeks the earliest heap entry without popping it.
func (s *Scheduler) next() (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return entry{}, false
	}
	return s.heap[0], true
}

// fire pops every due entry and finalizes the ones still armed at their
// recorded deadline. Superseded entries drain silently.
func (s *Scheduler) fire(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.heap).(entry)
		current, ok := s.armed[e.number]
		live := ok && current.Equal(e.at)
		if live {
			delete(s.armed, e.number)
		}
		s.mu.Unlock()

		if !live {
			continue
		}
		s.finalize(ctx, e.number)
	}
}
