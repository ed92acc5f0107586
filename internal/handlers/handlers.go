package handlers

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/numbot/core/telegram"
	tghelpers "github.com/m3rciful/numbot/core/telegram/helpers"
	"github.com/m3rciful/numbot/core/telegram/state"
	"github.com/m3rciful/numbot/internal/access"
	"github.com/m3rciful/numbot/internal/domain"
	"github.com/m3rciful/numbot/internal/pool"
	"github.com/m3rciful/numbot/internal/relay"
	"github.com/m3rciful/numbot/internal/session"
	"github.com/m3rciful/numbot/internal/stats"
)

// Config carries the handler-level settings.
type Config struct {
	// GroupID is the broadcast chat for delivered codes. 0 disables broadcast.
	GroupID int64
	// AdminID is the bootstrap administrator.
	AdminID int64
	// WhatsappRate and TelegramRate are per-success earnings shown in the
	// worker profile.
	WhatsappRate float64
	TelegramRate float64
	// PurchaseKeywords maps plain-text triggers to services.
	PurchaseKeywords map[string]domain.Service
	// PageSize is the number list page length.
	PageSize int
}

// Slots is the slot persistence slice the handlers touch directly.
type Slots interface {
	Get(ctx context.Context, number string) (domain.Slot, error)
	Add(ctx context.Context, number string, service domain.Service, ownerID int64, addedAt time.Time) (bool, error)
	Delete(ctx context.Context, number string) (bool, error)
}

// CounterReader reads the global slot counter for the profile view.
type CounterReader interface {
	Value(ctx context.Context) (int64, error)
}

// Handlers wires the Telegram surface to the domain services.
type Handlers struct {
	cfg      Config
	alloc    *pool.Allocator
	relay    *relay.Relay
	ledger   *stats.Ledger
	access   *access.Service
	sessions *session.Store
	slots    Slots
	counter  CounterReader
	fsm      state.Manager

	bot *tele.Bot

	// send overrides out-of-band delivery in tests.
	send func(to int64, text string, markup ...*tele.ReplyMarkup)
}

// New constructs the handler set.
func New(cfg Config, alloc *pool.Allocator, rel *relay.Relay, ledger *stats.Ledger, acc *access.Service, sessions *session.Store, slots Slots, counter CounterReader, fsm state.Manager) *Handlers {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 4
	}
	if len(cfg.PurchaseKeywords) == 0 {
		cfg.PurchaseKeywords = map[string]domain.Service{
			"wa": domain.ServiceWhatsapp,
			"tg": domain.ServiceTelegram,
		}
	}
	return &Handlers{
		cfg:      cfg,
		alloc:    alloc,
		relay:    rel,
		ledger:   ledger,
		access:   acc,
		sessions: sessions,
		slots:    slots,
		counter:  counter,
		fsm:      fsm,
	}
}

// SetBot installs the bot handle used for out-of-band sends (owner prompts,
// group broadcast, expiry notifications). Called from the OnStart hook.
func (h *Handlers) SetBot(bot *tele.Bot) {
	h.bot = bot
}

// FSM exposes the state manager for the text router.
func (h *Handlers) FSM() state.Manager {
	return h.fsm
}

// Register wires every command, callback and conversation state.
func (h *Handlers) Register(reg *tg.Registry) {
	h.registerCommands(reg)
	h.registerCallbacks(reg)
	h.registerStates()
	reg.SetTextFallback(h.onText)
}

func (h *Handlers) ctx(c tele.Context) context.Context {
	return tghelpers.BuildContext(c)
}

// deliver pushes an HTML message to an arbitrary chat, outside the current
// update. A zero chat ID or a missing bot handle drops the message.
func (h *Handlers) deliver(to int64, text string, markup ...*tele.ReplyMarkup) {
	if to == 0 {
		return
	}
	if h.send != nil {
		h.send(to, text, markup...)
		return
	}
	if h.bot == nil {
		return
	}
	_ = tghelpers.SendTo(h.bot, to, text, markup...)
}

func (h *Handlers) isAdmin(c tele.Context) bool {
	id := c.Sender().ID
	if h.cfg.AdminID != 0 && id == h.cfg.AdminID {
		return true
	}
	return h.access.IsAdmin(h.ctx(c), id)
}

// onText resolves plain text that matched neither a command nor a button
// alias. Purchase keywords live here.
func (h *Handlers) onText(c tele.Context) error {
	text := strings.ToLower(strings.TrimSpace(c.Text()))
	if service, ok := h.cfg.PurchaseKeywords[text]; ok {
		return h.purchase(c, service)
	}
	return nil
}
