package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbot/internal/domain"
)

func TestBeginEndLifecycle(t *testing.T) {
	s := NewStore(0)
	require.False(t, s.Active(7))

	s.Begin(7)
	require.True(t, s.Active(7))
	require.False(t, s.StartedAt(7).IsZero())

	started := s.StartedAt(7)
	s.Begin(7)
	require.Equal(t, started, s.StartedAt(7), "re-begin must keep the session")

	s.End(7)
	require.False(t, s.Active(7))
}

func TestAddPendingRequiresSession(t *testing.T) {
	s := NewStore(0)
	require.False(t, s.AddPending(7, domain.ServiceTelegram, "5550000001"))

	s.Begin(7)
	require.True(t, s.AddPending(7, domain.ServiceTelegram, "5550000001"))
	require.Equal(t, []string{"5550000001"}, s.Pending(7, domain.ServiceTelegram))
	require.Empty(t, s.Pending(7, domain.ServiceWhatsapp))
}

func TestWhatsappPendingCap(t *testing.T) {
	s := NewStore(2)
	s.Begin(7)
	require.True(t, s.AddPending(7, domain.ServiceWhatsapp, "5550000001"))
	require.True(t, s.AddPending(7, domain.ServiceWhatsapp, "5550000002"))
	require.False(t, s.AddPending(7, domain.ServiceWhatsapp, "5550000003"))

	// Telegram is not capped.
	for i := 0; i < 5; i++ {
		require.True(t, s.AddPending(7, domain.ServiceTelegram, "555000001"+string(rune('0'+i))))
	}
}

func TestRemovePending(t *testing.T) {
	s := NewStore(0)
	s.Begin(7)
	s.AddPending(7, domain.ServiceTelegram, "5550000001")
	s.AddPending(7, domain.ServiceTelegram, "5550000002")

	require.True(t, s.RemovePending(7, domain.ServiceTelegram, "5550000001"))
	require.False(t, s.RemovePending(7, domain.ServiceTelegram, "5550000001"))
	require.Equal(t, []string{"5550000002"}, s.Pending(7, domain.ServiceTelegram))
}

func TestSmsPromptBinding(t *testing.T) {
	s := NewStore(0)
	s.Begin(7)
	s.SetSmsPrompt(7, "5550000001", 991)

	id, ok := s.SmsPrompt(7, "5550000001")
	require.True(t, ok)
	require.Equal(t, 991, id)

	s.ClearSmsPrompt(7, "5550000001")
	_, ok = s.SmsPrompt(7, "5550000001")
	require.False(t, ok)
}

func TestSmsPromptWithoutShift(t *testing.T) {
	s := NewStore(0)

	// An owner who never started a shift still gets the prompt bound.
	s.SetSmsPrompt(7, "5550000001", 991)
	id, ok := s.SmsPrompt(7, "5550000001")
	require.True(t, ok)
	require.Equal(t, 991, id)

	// The implicit session is not a shift.
	require.False(t, s.Active(7))
	require.False(t, s.AddPending(7, domain.ServiceTelegram, "5550000002"))

	// Starting a shift later keeps the binding.
	s.Begin(7)
	require.True(t, s.Active(7))
	_, ok = s.SmsPrompt(7, "5550000001")
	require.True(t, ok)
}

func TestClearAllPendingKeepsSessions(t *testing.T) {
	s := NewStore(0)
	s.Begin(7)
	s.Begin(8)
	s.AddPending(7, domain.ServiceWhatsapp, "5550000001")
	s.SetSmsPrompt(8, "5550000002", 44)

	s.ClearAllPending()
	require.True(t, s.Active(7))
	require.True(t, s.Active(8))
	require.Empty(t, s.Pending(7, domain.ServiceWhatsapp))
	_, ok := s.SmsPrompt(8, "5550000002")
	require.False(t, ok)
}
