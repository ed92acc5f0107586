package handlers

import (
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/numbot/core/telegram"
	"github.com/m3rciful/numbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/numbot/core/telegram/helpers"
	"github.com/m3rciful/numbot/internal/access"
	"github.com/m3rciful/numbot/internal/domain"
)

func (h *Handlers) registerCallbacks(reg *tg.Registry) {
	_ = reg.RegisterCallback(cbApply, h.onApply)
	_ = reg.RegisterCallback(cbApprove, h.onApprove)
	_ = reg.RegisterCallback(cbReject, h.onReject)
	_ = reg.RegisterCallback(cbAddService, h.onChooseService)
	_ = reg.RegisterCallback(cbRequestSms, h.onRequestSms)
	_ = reg.RegisterCallback(cbReplace, h.onReplace)
	_ = reg.RegisterCallback(cbBurn, h.onBurn)
	_ = reg.RegisterCallback(cbCancelSms, h.onCancelSms)
	_ = reg.RegisterCallback(cbNumDelete, h.onNumberDelete)
	_ = reg.RegisterCallback(cbNumPage, h.onNumberPage)
	_ = reg.RegisterCallback(cbNumClose, h.onNumberClose)
}

func (h *Handlers) onApply(c tele.Context) error {
	ctx := h.ctx(c)
	sender := c.Sender()
	err := h.access.Apply(ctx, sender.ID, sender.Username)
	switch {
	case errors.Is(err, access.ErrAlreadyApproved):
		return tghelpers.EditOrSendHTML(c, msgApplyApproved)
	case errors.Is(err, access.ErrAlreadyPending):
		return tghelpers.EditOrSendHTML(c, msgApplyPending)
	case errors.Is(err, access.ErrCooldown):
		return c.Respond(&tele.CallbackResponse{Text: msgApplyCooldown})
	case err != nil:
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}

	h.notifyAdmins(c, applicationText(sender.ID, sender.Username), reviewMarkup(sender.ID))
	return tghelpers.EditOrSendHTML(c, msgApplySent)
}

// notifyAdmins fans an application card out to everyone with the admin role,
// falling back to the configured admin when the role list is empty.
func (h *Handlers) notifyAdmins(c tele.Context, text string, markup *tele.ReplyMarkup) {
	ctx := h.ctx(c)
	admins, err := h.access.ListAdmins(ctx)
	if err != nil || len(admins) == 0 {
		h.deliver(h.cfg.AdminID, text, markup)
		return
	}
	for _, admin := range admins {
		h.deliver(admin.UserID, text, markup)
	}
}

func (h *Handlers) onApprove(c tele.Context) error {
	if !h.isAdmin(c) {
		return c.Respond(&tele.CallbackResponse{Text: "Admins only"})
	}
	ctx := h.ctx(c)
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	err = h.access.Approve(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, "Already handled.")
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	h.deliver(userID, msgApproved)
	return tghelpers.EditOrSendHTML(c, "✅ Approved.")
}

func (h *Handlers) onReject(c tele.Context) error {
	if !h.isAdmin(c) {
		return c.Respond(&tele.CallbackResponse{Text: "Admins only"})
	}
	ctx := h.ctx(c)
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	err = h.access.Reject(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, "Already handled.")
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	h.deliver(userID, msgRejected)
	return tghelpers.EditOrSendHTML(c, "❌ Rejected.")
}

func (h *Handlers) onChooseService(c tele.Context) error {
	service, err := domain.ParseService(callbacks.CallbackPayload(c))
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	if !h.sessions.Active(c.Sender().ID) {
		return tghelpers.EditOrSendHTML(c, msgNeedShift)
	}
	h.fsm.SetState(c.Sender().ID, stateAwaitNumbers)
	h.fsm.SetTemp(c.Sender().ID, tempService, string(service))
	return tghelpers.EditOrSendHTML(c, msgSendNumbers)
}

func (h *Handlers) onRequestSms(c tele.Context) error {
	ctx := h.ctx(c)
	number := callbacks.CallbackPayload(c)
	slot, err := h.relay.RequestSms(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, msgNoNumbers)
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}

	// One prompt per worker at a time: a second one would overwrite the
	// number their next reply is routed to.
	if h.fsm.GetState(slot.OwnerID) == stateAwaitSms {
		return tghelpers.EditOrSendHTML(c, msgOwnerBusy)
	}

	// Direct send: the prompt message ID is needed to withdraw it later.
	msg, err := c.Bot().Send(tele.ChatID(slot.OwnerID), smsPromptText(number), &tele.SendOptions{
		ParseMode:   tele.ModeHTML,
		ReplyMarkup: promptMarkup(number),
	})
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	h.relay.BindPrompt(slot.OwnerID, number, msg.ID)
	h.fsm.SetState(slot.OwnerID, stateAwaitSms)
	h.fsm.SetTemp(slot.OwnerID, tempSmsNumber, number)

	return tghelpers.EditOrSendHTML(c, numberText(slot)+"\n\n"+msgSmsRequested, smsWaitMarkup(number))
}

func (h *Handlers) onReplace(c tele.Context) error {
	ctx := h.ctx(c)
	number := callbacks.CallbackPayload(c)
	slot, err := h.alloc.Replace(ctx, number, c.Sender().ID)
	if errors.Is(err, domain.ErrNoCandidates) {
		return tghelpers.EditOrSendHTML(c, msgNoNumbers)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, msgNoNumbers)
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	return tghelpers.EditOrSendHTML(c, numberText(slot), numberMarkup(slot.Number))
}

func (h *Handlers) onBurn(c tele.Context) error {
	ctx := h.ctx(c)
	number := callbacks.CallbackPayload(c)
	err := h.alloc.Fail(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, "Number is already gone.")
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	return tghelpers.EditOrSendHTML(c, msgBurned)
}

func (h *Handlers) onCancelSms(c tele.Context) error {
	ctx := h.ctx(c)
	number := callbacks.CallbackPayload(c)
	slot, err := h.slots.Get(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, msgSmsCanceled)
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}

	messageID, err := h.relay.CancelSms(ctx, slot.OwnerID, number)
	if errors.Is(err, domain.ErrNotFound) {
		return tghelpers.EditOrSendHTML(c, msgSmsCanceled)
	}
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}

	if b := c.Bot(); b != nil {
		_ = b.Delete(tele.StoredMessage{
			MessageID: strconv.Itoa(messageID),
			ChatID:    slot.OwnerID,
		})
	}
	h.clearSmsState(slot.OwnerID, number)
	if c.Sender().ID != slot.OwnerID {
		h.deliver(slot.OwnerID, msgSmsCanceled)
	}
	h.deliver(h.cfg.GroupID, canceledGroupText(number))
	return tghelpers.EditOrSendHTML(c, msgSmsCanceled)
}

// clearSmsState resets the owner's await-SMS conversation if it still points
// at the given number.
func (h *Handlers) clearSmsState(ownerID int64, number string) {
	if current, ok := h.fsm.GetTemp(ownerID, tempSmsNumber); ok {
		if s, _ := current.(string); s == number {
			h.fsm.ClearTemp(ownerID, tempSmsNumber)
			h.fsm.ClearState(ownerID)
		}
	}
}

func (h *Handlers) onNumberDelete(c tele.Context) error {
	ctx := h.ctx(c)
	parts, err := callbacks.PayloadParts(c, "|")
	if err != nil || len(parts) != 2 {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	service, err := domain.ParseService(parts[0])
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	number := parts[1]

	h.sessions.RemovePending(c.Sender().ID, service, number)
	if _, err := h.slots.Delete(ctx, number); err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	return h.renderNumberList(c, 0, true)
}

func (h *Handlers) onNumberPage(c tele.Context) error {
	page, err := callbacks.PayloadInt(c)
	if err != nil {
		return tghelpers.EditOrSendHTML(c, msgNetworkIssue)
	}
	return h.renderNumberList(c, page, true)
}

func (h *Handlers) onNumberClose(c tele.Context) error {
	return c.Delete()
}

// renderNumberList shows one page of the worker's numbers added this shift.
func (h *Handlers) renderNumberList(c tele.Context, page int, edit bool) error {
	workerID := c.Sender().ID
	var entries []listEntry
	for _, svc := range domain.Services() {
		for _, n := range h.sessions.Pending(workerID, svc) {
			entries = append(entries, listEntry{service: svc, number: n})
		}
	}
	if len(entries) == 0 {
		if edit {
			return tghelpers.EditOrSendHTML(c, "No numbers added this shift.")
		}
		return tghelpers.SendText(c, "No numbers added this shift.")
	}

	size := h.cfg.PageSize
	pages := (len(entries) + size - 1) / size
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	from := page * size
	to := from + size
	if to > len(entries) {
		to = len(entries)
	}

	text := "📋 <b>Your numbers</b>\nTap one to delete it."
	markup := numberListMarkup(entries[from:to], page, pages)
	if edit {
		return tghelpers.EditOrSendHTML(c, text, markup)
	}
	return tghelpers.SendHTML(c, text, markup)
}
