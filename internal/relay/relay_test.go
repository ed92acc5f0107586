package relay

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbot/internal/domain"
	"github.com/m3rciful/numbot/internal/session"
)

type fakePool struct {
	released  []string
	confirmed []string
}

func (p *fakePool) Release(_ context.Context, number string) error {
	p.released = append(p.released, number)
	return nil
}

func (p *fakePool) MarkSuccess(_ context.Context, number string) error {
	p.confirmed = append(p.confirmed, number)
	return nil
}

type fakeSlots struct {
	slots map[string]domain.Slot
}

func (s *fakeSlots) Get(_ context.Context, number string) (domain.Slot, error) {
	slot, ok := s.slots[number]
	if !ok {
		return domain.Slot{}, domain.ErrNotFound
	}
	return slot, nil
}

type fakeCounter struct{ n int64 }

func (c *fakeCounter) Value(context.Context) (int64, error) { return c.n, nil }

func leasedSlot(number string, owner, to int64) domain.Slot {
	return domain.Slot{
		Number:   number,
		Service:  domain.ServiceWhatsapp,
		OwnerID:  owner,
		IssuedTo: sql.NullInt64{Int64: to, Valid: true},
	}
}

func newTestRelay(slots map[string]domain.Slot) (*Relay, *fakePool, *session.Store) {
	pool := &fakePool{}
	sessions := session.NewStore(0)
	r := NewRelay(pool, &fakeSlots{slots: slots}, sessions, &fakeCounter{n: 9})
	return r, pool, sessions
}

func TestRequestSmsResolvesOwner(t *testing.T) {
	r, _, _ := newTestRelay(map[string]domain.Slot{
		"5550000001": leasedSlot("5550000001", 7, 77),
	})

	slot, err := r.RequestSms(context.Background(), "5550000001")
	require.NoError(t, err)
	require.EqualValues(t, 7, slot.OwnerID)
}

func TestRequestSmsUnleased(t *testing.T) {
	r, _, _ := newTestRelay(map[string]domain.Slot{
		"5550000001": {Number: "5550000001", OwnerID: 7},
	})

	_, err := r.RequestSms(context.Background(), "5550000001")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReceiveSmsOneShot(t *testing.T) {
	ctx := context.Background()
	r, pool, sessions := newTestRelay(map[string]domain.Slot{
		"5550000001": leasedSlot("5550000001", 7, 77),
	})
	sessions.Begin(7)
	r.BindPrompt(7, "5550000001", 42)

	receipt, err := r.ReceiveSms(ctx, 7, "5550000001", "1234")
	require.NoError(t, err)
	require.Equal(t, "1234", receipt.Text)
	require.EqualValues(t, 9, receipt.Counter)
	require.EqualValues(t, 77, receipt.Slot.IssuedTo.Int64)
	require.Equal(t, []string{"5550000001"}, pool.confirmed)

	_, err = r.ReceiveSms(ctx, 7, "5550000001", "1234")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, pool.confirmed, 1)
}

func TestBindPromptOffShiftOwner(t *testing.T) {
	ctx := context.Background()
	r, pool, _ := newTestRelay(map[string]domain.Slot{
		"5550000001": leasedSlot("5550000001", 7, 77),
	})

	// The owner never started a shift; the prompt still binds and delivers.
	r.BindPrompt(7, "5550000001", 42)
	receipt, err := r.ReceiveSms(ctx, 7, "5550000001", "1234")
	require.NoError(t, err)
	require.Equal(t, "1234", receipt.Text)
	require.Equal(t, []string{"5550000001"}, pool.confirmed)
}

func TestReceiveSmsWithoutPrompt(t *testing.T) {
	r, pool, sessions := newTestRelay(map[string]domain.Slot{
		"5550000001": leasedSlot("5550000001", 7, 77),
	})
	sessions.Begin(7)

	_, err := r.ReceiveSms(context.Background(), 7, "5550000001", "1234")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, pool.confirmed)
}

func TestReceiveSmsReleasedLease(t *testing.T) {
	r, pool, sessions := newTestRelay(map[string]domain.Slot{
		"5550000001": {Number: "5550000001", OwnerID: 7},
	})
	sessions.Begin(7)
	r.BindPrompt(7, "5550000001", 42)

	_, err := r.ReceiveSms(context.Background(), 7, "5550000001", "1234")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, pool.confirmed)

	// The stale prompt is gone too.
	_, ok := sessions.SmsPrompt(7, "5550000001")
	require.False(t, ok)
}

func TestCancelSmsReleasesLease(t *testing.T) {
	ctx := context.Background()
	r, pool, sessions := newTestRelay(map[string]domain.Slot{
		"5550000001": leasedSlot("5550000001", 7, 77),
	})
	sessions.Begin(7)
	r.BindPrompt(7, "5550000001", 42)

	messageID, err := r.CancelSms(ctx, 7, "5550000001")
	require.NoError(t, err)
	require.Equal(t, 42, messageID)
	require.Equal(t, []string{"5550000001"}, pool.released)

	_, err = r.CancelSms(ctx, 7, "5550000001")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
