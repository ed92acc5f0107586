package handlers

import (
	"context"
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbot/core/telegram/state"
	"github.com/m3rciful/numbot/internal/access"
	"github.com/m3rciful/numbot/internal/domain"
	"github.com/m3rciful/numbot/internal/pool"
	"github.com/m3rciful/numbot/internal/relay"
	"github.com/m3rciful/numbot/internal/session"
)

type slotTable struct {
	slots map[string]*domain.Slot
}

func (s *slotTable) Get(_ context.Context, number string) (domain.Slot, error) {
	slot, ok := s.slots[number]
	if !ok {
		return domain.Slot{}, domain.ErrNotFound
	}
	return *slot, nil
}

func (s *slotTable) AvailableNumbers(_ context.Context, service domain.Service) ([]string, error) {
	var out []string
	for _, slot := range s.slots {
		if slot.Service == service && !slot.IssuedTo.Valid {
			out = append(out, slot.Number)
		}
	}
	return out, nil
}

func (s *slotTable) Issue(_ context.Context, number string, to int64, at time.Time) error {
	slot, ok := s.slots[number]
	if !ok || slot.IssuedTo.Valid {
		return domain.ErrNotFound
	}
	slot.IssuedTo = sql.NullInt64{Int64: to, Valid: true}
	slot.IssuedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (s *slotTable) ReleaseLease(_ context.Context, number string) error {
	if slot, ok := s.slots[number]; ok {
		slot.IssuedTo = sql.NullInt64{}
		slot.IssuedAt = sql.NullTime{}
	}
	return nil
}

func (s *slotTable) MarkSuccess(_ context.Context, number string) error {
	slot, ok := s.slots[number]
	if !ok {
		return domain.ErrNotFound
	}
	slot.Success = true
	return nil
}

func (s *slotTable) Delete(_ context.Context, number string) (bool, error) {
	if _, ok := s.slots[number]; !ok {
		return false, nil
	}
	delete(s.slots, number)
	return true, nil
}

func (s *slotTable) Add(_ context.Context, number string, service domain.Service, ownerID int64, addedAt time.Time) (bool, error) {
	if _, ok := s.slots[number]; ok {
		return false, nil
	}
	s.slots[number] = &domain.Slot{Number: number, Service: service, OwnerID: ownerID, AddedAt: addedAt}
	return true, nil
}

type tallyCounter struct{ n int64 }

func (c *tallyCounter) Increment(context.Context) (int64, error) {
	c.n++
	return c.n, nil
}

func (c *tallyCounter) Decrement(context.Context) (int64, error) {
	c.n--
	return c.n, nil
}

func (c *tallyCounter) Value(context.Context) (int64, error) { return c.n, nil }

type noopLedger struct{}

func (noopLedger) RecordAttempt(context.Context, domain.Service) error { return nil }
func (noopLedger) RecordSuccess(context.Context, domain.Service) error { return nil }

type userTable struct {
	users map[int64]domain.User
}

func (u *userTable) Ensure(_ context.Context, userID int64, username, status, roles string) error {
	if _, ok := u.users[userID]; !ok {
		u.users[userID] = domain.User{UserID: userID, Username: username, Status: status, Roles: roles}
	}
	return nil
}

func (u *userTable) Get(_ context.Context, userID int64) (domain.User, error) {
	usr, ok := u.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return usr, nil
}

func (u *userTable) SetStatus(_ context.Context, userID int64, status string) error {
	usr := u.users[userID]
	usr.Status = status
	u.users[userID] = usr
	return nil
}

func (u *userTable) SetRoles(_ context.Context, userID int64, roles string) error {
	usr := u.users[userID]
	usr.Roles = roles
	u.users[userID] = usr
	return nil
}

func (u *userTable) UpdateLastRequest(_ context.Context, userID int64, at time.Time) error {
	usr := u.users[userID]
	usr.LastRequestTime = sql.NullTime{Time: at, Valid: true}
	u.users[userID] = usr
	return nil
}

func (u *userTable) ListByRole(context.Context, string) ([]domain.User, error) { return nil, nil }

func (u *userTable) Delete(_ context.Context, userID int64) error {
	delete(u.users, userID)
	return nil
}

type requestTable struct{}

func (requestTable) Insert(context.Context, int64, string, time.Time) error { return nil }
func (requestTable) Resolve(context.Context, int64, string) (bool, error)   { return false, nil }
func (requestTable) ListPending(context.Context) ([]domain.AccessRequest, error) {
	return nil, nil
}
func (requestTable) HasPending(context.Context, int64) (bool, error) { return false, nil }

type noopPurger struct{}

func (noopPurger) DeleteByUser(context.Context, int64) error { return nil }

// testContext records outbound traffic instead of talking to Telegram.
type testContext struct {
	tele.Context
	sender *tele.User
	text   string
	cb     *tele.Callback
	values map[string]interface{}

	sent  []string
	edits []string
}

func (c *testContext) Bot() tele.API              { return nil }
func (c *testContext) Update() tele.Update        { return tele.Update{} }
func (c *testContext) Sender() *tele.User         { return c.sender }
func (c *testContext) Chat() *tele.Chat           { return &tele.Chat{ID: c.sender.ID} }
func (c *testContext) Text() string               { return c.text }
func (c *testContext) Callback() *tele.Callback   { return c.cb }
func (c *testContext) Get(key string) interface{} { return c.values[key] }
func (c *testContext) Set(key string, val interface{}) {
	c.values[key] = val
}

func (c *testContext) Send(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		c.sent = append(c.sent, s)
	}
	return nil
}

func (c *testContext) EditOrSend(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		c.edits = append(c.edits, s)
	}
	return nil
}

func (c *testContext) Respond(...*tele.CallbackResponse) error { return nil }

type harness struct {
	h        *Handlers
	store    *slotTable
	users    *userTable
	sessions *session.Store
	rel      *relay.Relay
	fsm      state.Manager
	outbox   map[int64][]string
}

func newHarness() *harness {
	store := &slotTable{slots: make(map[string]*domain.Slot)}
	counter := &tallyCounter{}
	alloc := pool.NewAllocator(store, counter, noopLedger{}, pool.Options{
		Rand: rand.New(rand.NewSource(1)),
	})
	sessions := session.NewStore(0)
	rel := relay.NewRelay(alloc, store, sessions, counter)
	users := &userTable{users: make(map[int64]domain.User)}
	acc := access.NewService(users, requestTable{}, noopPurger{}, nil)
	fsm := state.NewMemoryManager()

	h := New(Config{GroupID: 500, AdminID: 1}, alloc, rel, nil, acc, sessions, store, counter, fsm)
	hs := &harness{
		h:        h,
		store:    store,
		users:    users,
		sessions: sessions,
		rel:      rel,
		fsm:      fsm,
		outbox:   make(map[int64][]string),
	}
	h.send = func(to int64, text string, _ ...*tele.ReplyMarkup) {
		hs.outbox[to] = append(hs.outbox[to], text)
	}
	return hs
}

func (hs *harness) approve(userID int64, username string) {
	hs.users.users[userID] = domain.User{
		UserID:   userID,
		Username: username,
		Status:   access.StatusApproved,
	}
}

func (hs *harness) addSlot(number string, service domain.Service, owner int64) {
	hs.store.slots[number] = &domain.Slot{
		Number:  number,
		Service: service,
		OwnerID: owner,
		AddedAt: time.Now(),
	}
}

func (hs *harness) addLeasedSlot(number string, service domain.Service, owner, to int64) {
	hs.addSlot(number, service, owner)
	hs.store.slots[number].IssuedTo = sql.NullInt64{Int64: to, Valid: true}
}

func textMessage(userID int64, username, text string) *testContext {
	return &testContext{
		sender: &tele.User{ID: userID, Username: username},
		text:   text,
		values: make(map[string]interface{}),
	}
}

func callbackTap(userID int64, username, unique, payload string) *testContext {
	return &testContext{
		sender: &tele.User{ID: userID, Username: username},
		cb:     &tele.Callback{Data: "\f" + unique + "|" + payload},
		values: make(map[string]interface{}),
	}
}

func TestPurchaseNotifiesNumberOwner(t *testing.T) {
	hs := newHarness()
	hs.approve(77, "buyer")
	hs.addSlot("5550000001", domain.ServiceWhatsapp, 7)

	c := textMessage(77, "buyer", "wa")
	require.NoError(t, hs.h.onText(c))

	require.Len(t, c.sent, 1)
	require.Contains(t, c.sent[0], "5550000001")

	require.Len(t, hs.outbox[7], 1)
	require.Contains(t, hs.outbox[7][0], "5550000001")
	require.Contains(t, hs.outbox[7][0], "@buyer")
}

func TestPurchaseOwnNumberSkipsOwnerNotice(t *testing.T) {
	hs := newHarness()
	hs.approve(7, "worker")
	hs.addSlot("5550000001", domain.ServiceWhatsapp, 7)

	c := textMessage(7, "worker", "wa")
	require.NoError(t, hs.h.onText(c))

	require.Len(t, c.sent, 1)
	require.Empty(t, hs.outbox[7])
}

func TestCancelSmsNotifiesOwnerAndGroup(t *testing.T) {
	hs := newHarness()
	hs.addLeasedSlot("5550000001", domain.ServiceWhatsapp, 7, 77)
	hs.rel.BindPrompt(7, "5550000001", 42)
	hs.fsm.SetState(7, stateAwaitSms)
	hs.fsm.SetTemp(7, tempSmsNumber, "5550000001")

	c := callbackTap(77, "buyer", cbCancelSms, "5550000001")
	require.NoError(t, hs.h.onCancelSms(c))

	require.Equal(t, []string{msgSmsCanceled}, c.edits)
	require.Equal(t, []string{msgSmsCanceled}, hs.outbox[7])
	require.Len(t, hs.outbox[500], 1)
	require.Contains(t, hs.outbox[500][0], "5550000001")

	slot, err := hs.store.Get(context.Background(), "5550000001")
	require.NoError(t, err)
	require.False(t, slot.Leased())
	require.False(t, hs.fsm.InProgress(7))
}

func TestCancelSmsByOwnerSkipsOwnerNotice(t *testing.T) {
	hs := newHarness()
	hs.addLeasedSlot("5550000001", domain.ServiceWhatsapp, 7, 77)
	hs.rel.BindPrompt(7, "5550000001", 42)

	c := callbackTap(7, "worker", cbCancelSms, "5550000001")
	require.NoError(t, hs.h.onCancelSms(c))

	require.Equal(t, []string{msgSmsCanceled}, c.edits)
	require.Empty(t, hs.outbox[7])
	require.Len(t, hs.outbox[500], 1)
}

func TestRequestSmsRejectsSecondPrompt(t *testing.T) {
	hs := newHarness()
	hs.addLeasedSlot("5550000001", domain.ServiceWhatsapp, 7, 77)
	hs.addLeasedSlot("5550000002", domain.ServiceWhatsapp, 7, 88)

	// The owner is already answering a prompt for the first number.
	hs.rel.BindPrompt(7, "5550000001", 42)
	hs.fsm.SetState(7, stateAwaitSms)
	hs.fsm.SetTemp(7, tempSmsNumber, "5550000001")

	c := callbackTap(88, "other", cbRequestSms, "5550000002")
	require.NoError(t, hs.h.onRequestSms(c))
	require.Equal(t, []string{msgOwnerBusy}, c.edits)

	// The first conversation is untouched and nothing got bound for the
	// second number.
	messageID, ok := hs.sessions.SmsPrompt(7, "5550000001")
	require.True(t, ok)
	require.Equal(t, 42, messageID)
	raw, _ := hs.fsm.GetTemp(7, tempSmsNumber)
	require.Equal(t, "5550000001", raw)
	_, ok = hs.sessions.SmsPrompt(7, "5550000002")
	require.False(t, ok)
}
