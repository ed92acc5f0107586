package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/numbot/core/logger"
	"github.com/m3rciful/numbot/internal/domain"
)

// Pool is the allocator slice the relay drives.
type Pool interface {
	Release(ctx context.Context, number string) error
	MarkSuccess(ctx context.Context, number string) error
}

// SlotGetter resolves a number to its slot.
type SlotGetter interface {
	Get(ctx context.Context, number string) (domain.Slot, error)
}

// Sessions binds leased numbers to worker-side prompt messages.
type Sessions interface {
	SetSmsPrompt(workerID int64, number string, messageID int)
	SmsPrompt(workerID int64, number string) (int, bool)
	ClearSmsPrompt(workerID int64, number string)
}

// CounterReader reads the current slot counter for the broadcast payload.
type CounterReader interface {
	Value(ctx context.Context) (int64, error)
}

// Receipt is the outcome of a delivered SMS code: the confirmed slot and the
// counter value published alongside it.
type Receipt struct {
	Slot    domain.Slot
	Text    string
	Counter int64
}

// Relay routes SMS prompts between purchasers and the workers who own the
// leased numbers. One prompt per number at a time; delivery is one-shot.
type Relay struct {
	pool     Pool
	slots    SlotGetter
	sessions Sessions
	counter  CounterReader
}

// NewRelay constructs a Relay.
func NewRelay(pool Pool, slots SlotGetter, sessions Sessions, counter CounterReader) *Relay {
	return &Relay{pool: pool, slots: slots, sessions: sessions, counter: counter}
}

// RequestSms resolves the worker who must supply the code for a leased
// number. Missing or unleased slots return domain.ErrNotFound.
func (r *Relay) RequestSms(ctx context.Context, number string) (domain.Slot, error) {
	slot, err := r.slots.Get(ctx, number)
	if err != nil {
		return domain.Slot{}, err
	}
	if !slot.Leased() {
		return domain.Slot{}, domain.ErrNotFound
	}
	logger.Info(ctx, "service.relay", "sms.requested",
		slog.String("number", number),
		slog.Int64("owner_id", slot.OwnerID),
	)
	return slot, nil
}

// BindPrompt records the worker-side prompt message for a number, enabling
// delivery and cancellation.
func (r *Relay) BindPrompt(workerID int64, number string, messageID int) {
	r.sessions.SetSmsPrompt(workerID, number, messageID)
}

// ReceiveSms delivers the worker's code. It is one-shot: a second delivery
// for the same number, or one for a released lease, returns
// domain.ErrNotFound. Delivery confirms the slot and snapshots the counter
// for the broadcast.
func (r *Relay) ReceiveSms(ctx context.Context, workerID int64, number, text string) (Receipt, error) {
	if _, ok := r.sessions.SmsPrompt(workerID, number); !ok {
		return Receipt{}, domain.ErrNotFound
	}
	slot, err := r.slots.Get(ctx, number)
	if err != nil {
		return Receipt{}, err
	}
	if !slot.Leased() {
		r.sessions.ClearSmsPrompt(workerID, number)
		return Receipt{}, domain.ErrNotFound
	}
	if err := r.pool.MarkSuccess(ctx, number); err != nil {
		return Receipt{}, fmt.Errorf("sms receive: %w", err)
	}
	r.sessions.ClearSmsPrompt(workerID, number)

	count, err := r.counter.Value(ctx)
	if err != nil {
		logger.Warn(ctx, "service.relay", "counter.read_failed",
			slog.String("number", number), slog.String("error", err.Error()))
	}
	logger.Info(ctx, "service.relay", "sms.delivered",
		slog.String("number", number),
		slog.Int64("owner_id", workerID),
		slog.Int64("counter", count),
	)
	return Receipt{Slot: slot, Text: text, Counter: count}, nil
}

// CancelSms withdraws a pending prompt and releases the lease back to the
// pool. It returns the prompt message ID so the caller can remove the
// worker-side message. No pending prompt means domain.ErrNotFound.
func (r *Relay) CancelSms(ctx context.Context, workerID int64, number string) (int, error) {
	messageID, ok := r.sessions.SmsPrompt(workerID, number)
	if !ok {
		return 0, domain.ErrNotFound
	}
	r.sessions.ClearSmsPrompt(workerID, number)
	if err := r.pool.Release(ctx, number); err != nil {
		return messageID, fmt.Errorf("sms cancel: %w", err)
	}
	logger.Info(ctx, "service.relay", "sms.canceled",
		slog.String("number", number),
		slog.Int64("owner_id", workerID),
	)
	return messageID, nil
}
