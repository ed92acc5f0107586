package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/m3rciful/numbot/core/logger"
	"github.com/m3rciful/numbot/internal/domain"
)

// SlotStore is the slice of slot persistence the allocator needs.
type SlotStore interface {
	Get(ctx context.Context, number string) (domain.Slot, error)
	AvailableNumbers(ctx context.Context, service domain.Service) ([]string, error)
	Issue(ctx context.Context, number string, to int64, at time.Time) error
	ReleaseLease(ctx context.Context, number string) error
	MarkSuccess(ctx context.Context, number string) error
	Delete(ctx context.Context, number string) (bool, error)
}

// Counter tracks the global slot counter.
type Counter interface {
	Increment(ctx context.Context) (int64, error)
	Decrement(ctx context.Context) (int64, error)
}

// Ledger records per-service daily outcomes.
type Ledger interface {
	RecordAttempt(ctx context.Context, service domain.Service) error
	RecordSuccess(ctx context.Context, service domain.Service) error
}

// ArmFunc schedules an expiry deadline for a leased number.
type ArmFunc func(number string, at time.Time)

// Outcome is the result of finalizing a lease deadline.
type Outcome int

const (
	// OutcomeGone means the slot vanished or the lease was released before
	// the deadline fired. Nothing to do.
	OutcomeGone Outcome = iota
	// OutcomeConfirmed means an SMS success was recorded; the slot stays.
	OutcomeConfirmed
	// OutcomeExpired means the deadline fired on an unconfirmed lease; the
	// slot was removed and the counter decremented.
	OutcomeExpired
)

// Options tunes the allocator. Zero values select defaults.
type Options struct {
	// TTL is the lease deadline duration. Defaults to 10 minutes.
	TTL time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
	// Rand overrides the draw source for tests.
	Rand *rand.Rand
}

// Allocator hands out number slots: uniform random draw over unleased slots
// with a recently-issued exclusion ring, atomic conditional issue with redraw
// on conflict, counter and ledger side effects, expiry arming.
type Allocator struct {
	store   SlotStore
	counter Counter
	ledger  Ledger
	arm     ArmFunc

	ttl  time.Duration
	now  func() time.Time
	ring *recentRing
	keys *keyedLocks

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewAllocator constructs an Allocator. arm may be nil until the expiry
// scheduler is wired; SetArm installs it later.
func NewAllocator(store SlotStore, counter Counter, ledger Ledger, opts Options) *Allocator {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Allocator{
		store:   store,
		counter: counter,
		ledger:  ledger,
		ttl:     ttl,
		now:     now,
		ring:    newRecentRing(),
		keys:    newKeyedLocks(),
		rnd:     rnd,
	}
}

// SetArm installs the expiry arming hook.
func (a *Allocator) SetArm(arm ArmFunc) {
	a.arm = arm
}

// TTL returns the configured lease deadline duration.
func (a *Allocator) TTL() time.Duration {
	return a.ttl
}

// Allocate leases a slot of the given service to the requester. It bumps the
// slot counter, counts the attempt in the ledger and arms the expiry deadline.
// Returns domain.ErrNoCandidates when the service pool has nothing unleased.
func (a *Allocator) Allocate(ctx context.Context, service domain.Service, requester int64) (domain.Slot, error) {
	number, err := a.draw(ctx, service, requester)
	if err != nil {
		return domain.Slot{}, err
	}
	if _, err := a.counter.Increment(ctx); err != nil {
		logger.Warn(ctx, "service.pool", "counter.increment_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	if err := a.ledger.RecordAttempt(ctx, service); err != nil {
		logger.Warn(ctx, "service.pool", "ledger.attempt_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	a.armDeadline(number)

	slot, err := a.store.Get(ctx, number)
	if err != nil {
		return domain.Slot{}, fmt.Errorf("allocate readback: %w", err)
	}
	logger.Info(ctx, "service.pool", "lease.issued",
		slog.String("number", number),
		slog.String("service", string(service)),
		slog.Int64("issued_to", requester),
	)
	return slot, nil
}

// Replace swaps a leased number for a fresh one of the same service. The new
// number is drawn first, while the old lease is still held, so the old number
// is never a candidate. The old lease is released only after the swap: when
// the pool has no alternative the caller gets domain.ErrNoCandidates and keeps
// the original lease. The counter and ledger are untouched: the attempt was
// already counted.
func (a *Allocator) Replace(ctx context.Context, oldNumber string, requester int64) (domain.Slot, error) {
	old, err := a.store.Get(ctx, oldNumber)
	if err != nil {
		return domain.Slot{}, err
	}
	if !old.Leased() {
		return domain.Slot{}, domain.ErrNotFound
	}

	number, err := a.draw(ctx, old.Service, requester)
	if err != nil {
		return domain.Slot{}, err
	}
	a.armDeadline(number)

	unlock := a.keys.lock(oldNumber)
	err = a.store.ReleaseLease(ctx, oldNumber)
	unlock()
	if err != nil {
		// The swap already happened; the stale lease expires on its own
		// deadline.
		logger.Warn(ctx, "service.pool", "lease.release_failed",
			slog.String("number", oldNumber), slog.String("error", err.Error()))
	} else {
		// Keep the freed number in the ring so the next draw avoids it.
		a.ring.Remember(string(old.Service), oldNumber, 0)
	}

	slot, err := a.store.Get(ctx, number)
	if err != nil {
		return domain.Slot{}, fmt.Errorf("replace readback: %w", err)
	}
	logger.Info(ctx, "service.pool", "lease.replaced",
		slog.String("number", number),
		slog.String("service", string(old.Service)),
		slog.Int64("issued_to", requester),
	)
	return slot, nil
}

// Release returns a leased slot to the pool without counting anything.
func (a *Allocator) Release(ctx context.Context, number string) error {
	unlock := a.keys.lock(number)
	defer unlock()
	if err := a.store.ReleaseLease(ctx, number); err != nil {
		return err
	}
	logger.Info(ctx, "service.pool", "lease.released", slog.String("number", number))
	return nil
}

// Fail removes a burned number permanently and decrements the counter.
// Returns domain.ErrNotFound when the slot no longer exists.
func (a *Allocator) Fail(ctx context.Context, number string) error {
	unlock := a.keys.lock(number)
	defer unlock()
	existed, err := a.store.Delete(ctx, number)
	if err != nil {
		return err
	}
	if !existed {
		return domain.ErrNotFound
	}
	a.ring.Forget(number)
	if _, err := a.counter.Decrement(ctx); err != nil {
		logger.Warn(ctx, "service.pool", "counter.decrement_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	logger.Info(ctx, "service.pool", "lease.failed", slog.String("number", number))
	return nil
}

// MarkSuccess flags a slot as confirmed and counts the success. The slot and
// its lease survive until the daily reset.
func (a *Allocator) MarkSuccess(ctx context.Context, number string) error {
	unlock := a.keys.lock(number)
	defer unlock()
	slot, err := a.store.Get(ctx, number)
	if err != nil {
		return err
	}
	if err := a.store.MarkSuccess(ctx, number); err != nil {
		return err
	}
	if err := a.ledger.RecordSuccess(ctx, slot.Service); err != nil {
		logger.Warn(ctx, "service.pool", "ledger.success_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	logger.Info(ctx, "service.pool", "lease.confirmed",
		slog.String("number", number), slog.String("service", string(slot.Service)))
	return nil
}

// Finalize resolves a fired deadline. A missing slot or a released lease is a
// no-op; a confirmed slot stays put; everything else expires.
func (a *Allocator) Finalize(ctx context.Context, number string) (Outcome, domain.Slot, error) {
	unlock := a.keys.lock(number)
	defer unlock()

	slot, err := a.store.Get(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug(ctx, "service.pool", "deadline.stale", slog.String("number", number))
		return OutcomeGone, domain.Slot{}, nil
	}
	if err != nil {
		return OutcomeGone, domain.Slot{}, err
	}
	if !slot.Leased() {
		logger.Debug(ctx, "service.pool", "deadline.unleased", slog.String("number", number))
		return OutcomeGone, slot, nil
	}
	if slot.Success {
		logger.Info(ctx, "service.pool", "deadline.confirmed",
			slog.String("number", number), slog.String("service", string(slot.Service)))
		return OutcomeConfirmed, slot, nil
	}

	existed, err := a.store.Delete(ctx, number)
	if err != nil {
		return OutcomeGone, slot, err
	}
	if !existed {
		return OutcomeGone, slot, nil
	}
	a.ring.Forget(number)
	if _, err := a.counter.Decrement(ctx); err != nil {
		logger.Warn(ctx, "service.pool", "counter.decrement_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	logger.Info(ctx, "service.pool", "deadline.expired",
		slog.String("number", number), slog.String("service", string(slot.Service)))
	return OutcomeExpired, slot, nil
}

// ResetRing clears the recently-issued memory. The daily reset calls this
// after wiping the pool.
func (a *Allocator) ResetRing() {
	a.ring.Reset()
}

func (a *Allocator) draw(ctx context.Context, service domain.Service, requester int64) (string, error) {
	for {
		candidates, err := a.store.AvailableNumbers(ctx, service)
		if err != nil {
			return "", fmt.Errorf("draw candidates: %w", err)
		}
		if len(candidates) == 0 {
			return "", domain.ErrNoCandidates
		}
		eligible := a.ring.Filter(string(service), candidates)
		pick := eligible[a.intn(len(eligible))]

		unlock := a.keys.lock(pick)
		err = a.store.Issue(ctx, pick, requester, a.now())
		unlock()
		if errors.Is(err, domain.ErrNotFound) {
			// Lost the race for this number. The next pass re-reads the
			// shrunken candidate set.
			continue
		}
		if err != nil {
			return "", fmt.Errorf("draw issue: %w", err)
		}
		a.ring.Remember(string(service), pick, len(candidates))
		return pick, nil
	}
}

func (a *Allocator) armDeadline(number string) {
	if a.arm == nil {
		return
	}
	a.arm(number, a.now().Add(a.ttl))
}

func (a *Allocator) intn(n int) int {
	a.randMu.Lock()
	defer a.randMu.Unlock()
	return a.rnd.Intn(n)
}
