package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/numbot/internal/domain"
)

// Reply-keyboard button labels. The labels double as command aliases so the
// text router resolves taps without extra plumbing.
const (
	btnStartWork  = "🚀 Start work"
	btnAddNumbers = "➕ Add numbers"
	btnMyNumbers  = "📋 My numbers"
	btnProfile    = "👤 Profile"
	btnEndWork    = "🏁 End work"
)

const (
	msgNotEligible   = "You don't have access yet. Apply and wait for approval."
	msgStartShift    = "Shift started. Add numbers or wait for purchases."
	msgEndShift      = "Shift ended. See you tomorrow."
	msgNeedShift     = "Start work first."
	msgNoNumbers     = "No numbers available right now, try again later."
	msgNetworkIssue  = "Something went wrong, try again."
	msgApplySent     = "Application sent. You will be notified once reviewed."
	msgApplyApproved = "You already have access."
	msgApplyPending  = "Your application is already being reviewed."
	msgApplyCooldown = "Too fast. Wait a few seconds and try again."
	msgApproved      = "✅ Your application was approved. Press /start to begin."
	msgRejected      = "❌ Your application was rejected."
	msgSmsRequested  = "Code requested. The worker will supply it shortly."
	msgSmsCanceled   = "Request canceled, the number went back to the pool."
	msgOwnerBusy     = "The worker is handling another code right now, try again in a moment."
	msgSmsDelivered  = "Code forwarded."
	msgBurned        = "Number marked as burned and removed."
	msgChooseService = "Which service are the numbers for?"
	msgSendNumbers   = "Send the numbers, one per line, 10 digits each."
	msgSendWorkerID  = "Send the numeric ID of the worker to remove."
)

func helpText(keywords map[string]domain.Service) string {
	var kws []string
	for kw, svc := range keywords {
		kws = append(kws, fmt.Sprintf("<code>%s</code>: %s", kw, svc.Title()))
	}
	return "This bot hands out phone numbers for registrations.\n\n" +
		"Workers: start a shift, add your numbers and answer SMS prompts.\n" +
		"Buyers: send a keyword to get a number:\n" +
		strings.Join(kws, "\n") +
		"\n\nAn unconfirmed number expires 10 minutes after issue."
}

func numberText(slot domain.Slot) string {
	return fmt.Sprintf(
		"📱 <a href=\"tel:%s\">%s</a>\nService: %s\nUnconfirmed numbers expire in 10 minutes.",
		slot.Number, slot.Number, slot.Service.Title(),
	)
}

func smsPromptText(number string) string {
	return fmt.Sprintf(
		"✉️ A code was requested for <a href=\"tel:%s\">%s</a>.\nReply to this chat with the code.",
		number, number,
	)
}

func deliveredText(number, code string, counter int64) string {
	return fmt.Sprintf(
		"✅ <a href=\"tel:%s\">%s</a>\nCode: <code>%s</code>\nConfirmed today: %d",
		number, number, code, counter,
	)
}

func issuedNoticeText(number, username string, userID int64) string {
	who := fmt.Sprintf("id %d", userID)
	if username != "" {
		who = "@" + username
	}
	return fmt.Sprintf("📤 Number %s was issued to %s.", number, who)
}

func canceledGroupText(number string) string {
	return fmt.Sprintf("❌ The code request for %s was canceled, the number went back to the pool.", number)
}

func expiredText(number string) string {
	return fmt.Sprintf("⌛ Number %s expired without confirmation and was removed.", number)
}

func confirmedText(number string) string {
	return fmt.Sprintf("✅ Number %s is confirmed.", number)
}

func applicationText(userID int64, username string) string {
	name := "(no username)"
	if username != "" {
		name = "@" + username
	}
	return fmt.Sprintf("🔔 Access application\nID: <code>%d</code>\nUsername: %s", userID, name)
}

func profileText(rec domain.DailyStats, counter int64, startedAt time.Time, waRate, tgRate float64) string {
	earnings := float64(rec.WhatsappSuccess)*waRate + float64(rec.TelegramSuccess)*tgRate
	shift := "no active shift"
	if !startedAt.IsZero() {
		shift = "since " + startedAt.Format("15:04")
	}
	return fmt.Sprintf(
		"👤 <b>Profile</b>\nShift: %s\n\nToday:\nWhatsApp %d/%d\nTelegram %d/%d\nIssued total: %d\n\nEarnings: %.2f",
		shift,
		rec.WhatsappSuccess, rec.WhatsappTotal,
		rec.TelegramSuccess, rec.TelegramTotal,
		counter, earnings,
	)
}

func ingestTally(added, invalid, dup, capped int) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Added: %d", added)
	if invalid > 0 {
		fmt.Fprintf(b, "\nInvalid (need 10 digits): %d", invalid)
	}
	if dup > 0 {
		fmt.Fprintf(b, "\nAlready known: %d", dup)
	}
	if capped > 0 {
		fmt.Fprintf(b, "\nOver the limit, skipped: %d", capped)
	}
	return b.String()
}

func windowText(recs []domain.DailyStats) string {
	if len(recs) == 0 {
		return "No data for the last 7 days."
	}
	b := &strings.Builder{}
	b.WriteString("📊 <b>Last 7 days</b>\n")
	for _, r := range recs {
		fmt.Fprintf(b, "\n%s  WA %d/%d  TG %d/%d",
			r.Date.Format("02.01"),
			r.WhatsappSuccess, r.WhatsappTotal,
			r.TelegramSuccess, r.TelegramTotal,
		)
	}
	return b.String()
}

func resetDoneText(deleted int64) string {
	return fmt.Sprintf("🧹 Daily reset done, %d numbers removed.", deleted)
}
