package handlers

import (
	"context"
	"log/slog"

	"github.com/m3rciful/numbot/core/logger"
	"github.com/m3rciful/numbot/internal/pool"
)

// FinalizeDeadline resolves a fired lease deadline and notifies the
// purchaser about the outcome. Wired into the expiry scheduler.
func (h *Handlers) FinalizeDeadline(ctx context.Context, number string) {
	outcome, slot, err := h.alloc.Finalize(ctx, number)
	if err != nil {
		logger.Error(ctx, "service.expiry", "finalize.failed",
			slog.String("number", number), slog.String("error", err.Error()))
		return
	}
	if !slot.IssuedTo.Valid {
		return
	}
	switch outcome {
	case pool.OutcomeExpired:
		h.deliver(slot.IssuedTo.Int64, expiredText(number))
	case pool.OutcomeConfirmed:
		h.deliver(slot.IssuedTo.Int64, confirmedText(number))
	}
}

// NotifyReset reports a completed daily reset to the administrator.
func (h *Handlers) NotifyReset(ctx context.Context, deleted int64) {
	h.deliver(h.cfg.AdminID, resetDoneText(deleted))
}
