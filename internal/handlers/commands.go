package handlers

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/numbot/core/telegram"
	"github.com/m3rciful/numbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/numbot/core/telegram/helpers"
	"github.com/m3rciful/numbot/internal/domain"
)

func (h *Handlers) registerCommands(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     h.onStart,
		Description: "Start the bot",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     h.onHelp,
		Description: "How the bot works",
	})

	// Menu buttons resolve through aliases; the slash names stay hidden.
	reg.RegisterCommand("/work", commands.Command{
		Handler:     h.onStartWork,
		Description: "Start a shift",
		Hidden:      true,
		Aliases:     []string{btnStartWork},
	})
	reg.RegisterCommand("/end", commands.Command{
		Handler:     h.onEndWork,
		Description: "End the shift",
		Hidden:      true,
		Aliases:     []string{btnEndWork},
	})
	reg.RegisterCommand("/add", commands.Command{
		Handler:     h.onAddNumbers,
		Description: "Add numbers",
		Hidden:      true,
		Aliases:     []string{btnAddNumbers},
	})
	reg.RegisterCommand("/numbers", commands.Command{
		Handler:     h.onMyNumbers,
		Description: "List added numbers",
		Hidden:      true,
		Aliases:     []string{btnMyNumbers},
	})
	reg.RegisterCommand("/profile", commands.Command{
		Handler:     h.onProfile,
		Description: "Shift profile",
		Hidden:      true,
		Aliases:     []string{btnProfile},
	})

	reg.RegisterCommand("/rm", commands.Command{
		Handler:     h.onRemoveNumbers,
		Description: "Remove numbers from the pool",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/removeworker", commands.Command{
		Handler:     h.onRemoveWorker,
		Description: "Remove a worker and their numbers",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/requests", commands.Command{
		Handler:     h.onListRequests,
		Description: "Open access applications",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/stats7", commands.Command{
		Handler:     h.onStatsWindow,
		Description: "Stats for the last 7 days",
		AdminOnly:   true,
	})
}

func (h *Handlers) onStart(c tele.Context) error {
	ctx := h.ctx(c)
	sender := c.Sender()
	if err := h.access.EnsureUser(ctx, sender.ID, sender.Username); err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	if h.access.IsEligibleWorker(ctx, sender.ID) {
		return tghelpers.SendHTML(c, "Welcome back!", mainMenu())
	}
	return tghelpers.SendHTML(c, msgNotEligible, applyMarkup())
}

func (h *Handlers) onHelp(c tele.Context) error {
	return tghelpers.SendHTML(c, helpText(h.cfg.PurchaseKeywords))
}

func (h *Handlers) onStartWork(c tele.Context) error {
	ctx := h.ctx(c)
	if !h.access.IsEligibleWorker(ctx, c.Sender().ID) {
		return tghelpers.SendHTML(c, msgNotEligible, applyMarkup())
	}
	h.sessions.Begin(c.Sender().ID)
	return tghelpers.SendHTML(c, msgStartShift, mainMenu())
}

func (h *Handlers) onEndWork(c tele.Context) error {
	h.sessions.End(c.Sender().ID)
	h.fsm.Clear(c.Sender().ID)
	return tghelpers.SendHTML(c, msgEndShift, mainMenu())
}

func (h *Handlers) onAddNumbers(c tele.Context) error {
	ctx := h.ctx(c)
	if !h.access.IsEligibleWorker(ctx, c.Sender().ID) {
		return tghelpers.SendHTML(c, msgNotEligible, applyMarkup())
	}
	if !h.sessions.Active(c.Sender().ID) {
		return tghelpers.SendText(c, msgNeedShift)
	}
	return tghelpers.SendHTML(c, msgChooseService, serviceMarkup())
}

func (h *Handlers) onMyNumbers(c tele.Context) error {
	if !h.sessions.Active(c.Sender().ID) {
		return tghelpers.SendText(c, msgNeedShift)
	}
	return h.renderNumberList(c, 0, false)
}

func (h *Handlers) onProfile(c tele.Context) error {
	ctx := h.ctx(c)
	rec, err := h.ledger.Snapshot(ctx)
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	count, err := h.counter.Value(ctx)
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	started := h.sessions.StartedAt(c.Sender().ID)
	return tghelpers.SendHTML(c, profileText(rec, count, started, h.cfg.WhatsappRate, h.cfg.TelegramRate))
}

func (h *Handlers) onRemoveNumbers(c tele.Context) error {
	if !h.isAdmin(c) {
		return nil
	}
	ctx := h.ctx(c)
	args := c.Args()
	if len(args) == 0 {
		return tghelpers.SendText(c, "Usage: /rm <number> [number...]")
	}
	removed := 0
	for _, number := range args {
		if !domain.ValidNumber(number) {
			continue
		}
		ok, err := h.slots.Delete(ctx, number)
		if err != nil {
			return tghelpers.SendText(c, msgNetworkIssue)
		}
		if ok {
			removed++
		}
	}
	return tghelpers.SendText(c, fmt.Sprintf("Removed %d of %d.", removed, len(args)))
}

func (h *Handlers) onRemoveWorker(c tele.Context) error {
	if !h.isAdmin(c) {
		return nil
	}
	h.fsm.SetState(c.Sender().ID, stateAwaitWorkerID)
	return tghelpers.SendText(c, msgSendWorkerID)
}

func (h *Handlers) onListRequests(c tele.Context) error {
	if !h.isAdmin(c) {
		return nil
	}
	ctx := h.ctx(c)
	pending, err := h.access.ListPending(ctx)
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	if len(pending) == 0 {
		return tghelpers.SendText(c, "No open applications.")
	}
	for _, req := range pending {
		if err := tghelpers.SendHTML(c, applicationText(req.UserID, req.Username), reviewMarkup(req.UserID)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) onStatsWindow(c tele.Context) error {
	if !h.isAdmin(c) {
		return nil
	}
	recs, err := h.ledger.Window(h.ctx(c))
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	return tghelpers.SendHTML(c, windowText(recs))
}

// purchase serves a keyword purchase: draw a number and present it with the
// lease controls.
func (h *Handlers) purchase(c tele.Context, service domain.Service) error {
	ctx := h.ctx(c)
	sender := c.Sender()
	if !h.access.IsEligibleWorker(ctx, sender.ID) {
		return tghelpers.SendHTML(c, msgNotEligible, applyMarkup())
	}
	slot, err := h.alloc.Allocate(ctx, service, sender.ID)
	if errors.Is(err, domain.ErrNoCandidates) {
		return tghelpers.SendText(c, msgNoNumbers)
	}
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	if slot.OwnerID != sender.ID {
		h.deliver(slot.OwnerID, issuedNoticeText(slot.Number, sender.Username, sender.ID))
	}
	return tghelpers.SendHTML(c, numberText(slot), numberMarkup(slot.Number))
}
