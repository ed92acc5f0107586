package handlers

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbot/core/telegram/keyboard"
	"github.com/m3rciful/numbot/internal/domain"
)

// Callback keys. Each maps to a handler registered in registerCallbacks.
const (
	cbApply      = "apply"
	cbApprove    = "approve"
	cbReject     = "reject"
	cbAddService = "addsvc"
	cbRequestSms = "reqsms"
	cbReplace    = "replace"
	cbBurn       = "burn"
	cbCancelSms  = "cancelsms"
	cbNumDelete  = "numdel"
	cbNumPage    = "numpage"
	cbNumClose   = "numclose"
)

func mainMenu() *tele.ReplyMarkup {
	return keyboard.ReplyButtons(
		[]string{btnStartWork, btnEndWork},
		[]string{btnAddNumbers, btnMyNumbers},
		[]string{btnProfile},
	)
}

func applyMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "📨 Request access", Unique: cbApply},
	})
}

func reviewMarkup(userID int64) *tele.ReplyMarkup {
	payload := strconv.FormatInt(userID, 10)
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Approve", Unique: cbApprove, Data: payload},
		{Text: "❌ Reject", Unique: cbReject, Data: payload},
	})
}

func serviceMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "WhatsApp", Unique: cbAddService, Data: string(domain.ServiceWhatsapp)},
		{Text: "Telegram", Unique: cbAddService, Data: string(domain.ServiceTelegram)},
	})
}

func numberMarkup(number string) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "✉️ Request SMS", Unique: cbRequestSms, Data: number},
		},
		[]keyboard.InlineBtn{
			{Text: "🔁 Replace", Unique: cbReplace, Data: number},
			{Text: "🔥 Burned", Unique: cbBurn, Data: number},
		},
	)
}

func smsWaitMarkup(number string) *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "❌ Cancel SMS", Unique: cbCancelSms, Data: number},
	})
}

func promptMarkup(number string) *tele.ReplyMarkup {
	return keyboard.SingleCancelMarkup(cbCancelSms, number)
}

type listEntry struct {
	service domain.Service
	number  string
}

func numberListMarkup(entries []listEntry, page, pages int) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, e := range entries {
		data := string(e.service) + "|" + e.number
		label := fmt.Sprintf("🗑 %s (%s)", e.number, e.service.Title())
		rows = append(rows, markup.Row(markup.Data(label, cbNumDelete, data)))
	}
	var nav []tele.Btn
	if page > 0 {
		nav = append(nav, markup.Data("⬅️", cbNumPage, strconv.Itoa(page-1)))
	}
	if page < pages-1 {
		nav = append(nav, markup.Data("➡️", cbNumPage, strconv.Itoa(page+1)))
	}
	nav = append(nav, markup.Data("✖️ Close", cbNumClose, "close"))
	rows = append(rows, markup.Row(nav...))
	markup.Inline(rows...)
	return markup
}
