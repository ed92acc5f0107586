package domain

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Service tags a number slot with the messenger it was submitted for.
type Service string

const (
	// ServiceWhatsapp marks slots submitted for WhatsApp registration.
	ServiceWhatsapp Service = "whatsapp"
	// ServiceTelegram marks slots submitted for Telegram registration.
	ServiceTelegram Service = "telegram"
)

// Services lists every supported service tag.
func Services() []Service {
	return []Service{ServiceWhatsapp, ServiceTelegram}
}

// ParseService validates a raw service tag.
func ParseService(raw string) (Service, error) {
	switch Service(strings.ToLower(strings.TrimSpace(raw))) {
	case ServiceWhatsapp:
		return ServiceWhatsapp, nil
	case ServiceTelegram:
		return ServiceTelegram, nil
	}
	return "", fmt.Errorf("unknown service %q: %w", raw, ErrInvalidInput)
}

// Title returns the service name capitalised for user-facing messages.
func (s Service) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Slot is one phone number made available for a service.
// A slot is leased while IssuedTo is set; IssuedTo and IssuedAt are set and
// cleared together.
type Slot struct {
	Number   string        `db:"number"`
	Service  Service       `db:"service"`
	OwnerID  int64         `db:"owner_id"`
	IssuedTo sql.NullInt64 `db:"issued_to"`
	IssuedAt sql.NullTime  `db:"issued_at"`
	Success  bool          `db:"success"`
	AddedAt  time.Time     `db:"added_at"`
}

// Leased reports whether the slot currently has a lease holder.
func (s Slot) Leased() bool {
	return s.IssuedTo.Valid
}

// DailyStats aggregates success/attempt counters for one calendar day.
type DailyStats struct {
	Date            time.Time `db:"date"`
	WhatsappSuccess int       `db:"whatsapp_success"`
	WhatsappTotal   int       `db:"whatsapp_total"`
	TelegramSuccess int       `db:"telegram_success"`
	TelegramTotal   int       `db:"telegram_total"`
}

// User is a registered bot user with an approval status and role list.
type User struct {
	UserID          int64        `db:"user_id"`
	Username        string       `db:"username"`
	Status          string       `db:"status"`
	LastRequestTime sql.NullTime `db:"last_request_time"`
	Roles           string       `db:"roles"`
}

// HasRole reports whether the comma-separated role list contains role.
func (u User) HasRole(role string) bool {
	for _, r := range strings.Split(u.Roles, ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

// AccessRequest is a pending application for worker access.
type AccessRequest struct {
	RequestID   int64     `db:"request_id"`
	UserID      int64     `db:"user_id"`
	Username    string    `db:"username"`
	Status      string    `db:"status"`
	RequestTime time.Time `db:"request_time"`
}

// ValidNumber reports whether raw satisfies the ingestion rule:
// exactly ten ASCII digits.
func ValidNumber(raw string) bool {
	if len(raw) != 10 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}
