package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	tghelpers "github.com/m3rciful/numbot/core/telegram/helpers"
	"github.com/m3rciful/numbot/core/telegram/state"
	"github.com/m3rciful/numbot/internal/domain"
)

// Conversation states. The text router hands updates here while one is set.
const (
	stateAwaitNumbers  state.State = "await_numbers"
	stateAwaitSms      state.State = "await_sms"
	stateAwaitWorkerID state.State = "await_worker_id"
)

// Temp keys bound to conversation states.
const (
	tempService   = "service"
	tempSmsNumber = "sms_number"
)

func (h *Handlers) registerStates() {
	state.RegisterHandler(stateAwaitNumbers, h.onNumbersInput)
	state.RegisterHandler(stateAwaitSms, h.onSmsInput)
	state.RegisterHandler(stateAwaitWorkerID, h.onWorkerIDInput)
}

// onNumbersInput ingests a pasted batch of numbers for the chosen service.
func (h *Handlers) onNumbersInput(c tele.Context) error {
	ctx := h.ctx(c)
	workerID := c.Sender().ID

	raw, _ := h.fsm.GetTemp(workerID, tempService)
	serviceName, _ := raw.(string)
	service, err := domain.ParseService(serviceName)
	if err != nil {
		h.fsm.ClearState(workerID)
		return tghelpers.SendText(c, msgNetworkIssue)
	}

	h.fsm.ClearTemp(workerID, tempService)
	h.fsm.ClearState(workerID)

	var added, invalid, dup, capped int
	for _, line := range strings.Split(c.Text(), "\n") {
		number := strings.TrimSpace(line)
		if number == "" {
			continue
		}
		if !domain.ValidNumber(number) {
			invalid++
			continue
		}
		if !h.sessions.AddPending(workerID, service, number) {
			capped++
			continue
		}
		inserted, err := h.slots.Add(ctx, number, service, workerID, time.Now())
		if err != nil {
			h.sessions.RemovePending(workerID, service, number)
			return tghelpers.SendText(c, msgNetworkIssue)
		}
		if !inserted {
			h.sessions.RemovePending(workerID, service, number)
			dup++
			continue
		}
		added++
	}
	return tghelpers.SendHTML(c, ingestTally(added, invalid, dup, capped), mainMenu())
}

// onSmsInput delivers the worker's code for the number bound to the prompt.
func (h *Handlers) onSmsInput(c tele.Context) error {
	ctx := h.ctx(c)
	workerID := c.Sender().ID

	raw, ok := h.fsm.GetTemp(workerID, tempSmsNumber)
	number, _ := raw.(string)
	if !ok || number == "" {
		h.fsm.ClearState(workerID)
		return tghelpers.SendText(c, msgNetworkIssue)
	}

	receipt, err := h.relay.ReceiveSms(ctx, workerID, number, strings.TrimSpace(c.Text()))
	if errors.Is(err, domain.ErrNotFound) {
		h.fsm.ClearTemp(workerID, tempSmsNumber)
		h.fsm.ClearState(workerID)
		return tghelpers.SendText(c, "The request is no longer active.")
	}
	if err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}

	h.fsm.ClearTemp(workerID, tempSmsNumber)
	h.fsm.ClearState(workerID)

	text := deliveredText(receipt.Slot.Number, receipt.Text, receipt.Counter)
	if receipt.Slot.IssuedTo.Valid {
		h.deliver(receipt.Slot.IssuedTo.Int64, text)
	}
	h.deliver(h.cfg.GroupID, text)
	return tghelpers.SendText(c, msgSmsDelivered)
}

// onWorkerIDInput finishes the /removeworker flow.
func (h *Handlers) onWorkerIDInput(c tele.Context) error {
	ctx := h.ctx(c)
	adminID := c.Sender().ID
	h.fsm.ClearState(adminID)

	if !h.isAdmin(c) {
		return nil
	}
	workerID, err := strconv.ParseInt(strings.TrimSpace(c.Text()), 10, 64)
	if err != nil {
		return tghelpers.SendText(c, "That doesn't look like a numeric ID.")
	}
	h.sessions.End(workerID)
	h.fsm.Clear(workerID)
	if err := h.access.RemoveWorker(ctx, workerID); err != nil {
		return tghelpers.SendText(c, msgNetworkIssue)
	}
	return tghelpers.SendText(c, "Worker removed along with their numbers.")
}
