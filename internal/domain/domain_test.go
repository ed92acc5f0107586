package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidNumber(t *testing.T) {
	valid := []string{"5550000001", "0000000000", "9999999999"}
	for _, n := range valid {
		require.True(t, ValidNumber(n), n)
	}
	invalid := []string{"", "555000000", "55500000011", "555000000a", "+550000001", "555 000001"}
	for _, n := range invalid {
		require.False(t, ValidNumber(n), n)
	}
}

func TestParseService(t *testing.T) {
	svc, err := ParseService(" WhatsApp ")
	require.NoError(t, err)
	require.Equal(t, ServiceWhatsapp, svc)

	svc, err = ParseService("telegram")
	require.NoError(t, err)
	require.Equal(t, ServiceTelegram, svc)

	_, err = ParseService("viber")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestServiceTitle(t *testing.T) {
	require.Equal(t, "Whatsapp", ServiceWhatsapp.Title())
	require.Equal(t, "Telegram", ServiceTelegram.Title())
	require.Equal(t, "", Service("").Title())
}

func TestUserHasRole(t *testing.T) {
	u := User{Roles: "worker, admin"}
	require.True(t, u.HasRole("worker"))
	require.True(t, u.HasRole("admin"))
	require.False(t, u.HasRole("owner"))
	require.False(t, User{}.HasRole("worker"))
}
