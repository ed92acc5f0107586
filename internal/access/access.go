package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/numbot/core/logger"
	"github.com/m3rciful/numbot/internal/domain"
)

// Roles and approval statuses stored on users.
const (
	RoleAdmin  = "admin"
	RoleWorker = "worker"

	StatusPending  = "pending"
	StatusApproved = "approved"

	// ApplyCooldown throttles repeat access applications.
	ApplyCooldown = 10 * time.Second
)

var (
	// ErrCooldown means the user re-applied too soon.
	ErrCooldown = errors.New("application cooldown active")
	// ErrAlreadyApproved means the user already has access.
	ErrAlreadyApproved = errors.New("already approved")
	// ErrAlreadyPending means an application is already open.
	ErrAlreadyPending = errors.New("application already pending")
)

// Users is the user persistence slice the service needs.
type Users interface {
	Ensure(ctx context.Context, userID int64, username, status, roles string) error
	Get(ctx context.Context, userID int64) (domain.User, error)
	SetStatus(ctx context.Context, userID int64, status string) error
	SetRoles(ctx context.Context, userID int64, roles string) error
	UpdateLastRequest(ctx context.Context, userID int64, at time.Time) error
	ListByRole(ctx context.Context, role string) ([]domain.User, error)
	Delete(ctx context.Context, userID int64) error
}

// Requests is the application persistence slice.
type Requests interface {
	Insert(ctx context.Context, userID int64, username string, at time.Time) error
	Resolve(ctx context.Context, userID int64, status string) (bool, error)
	ListPending(ctx context.Context) ([]domain.AccessRequest, error)
	HasPending(ctx context.Context, userID int64) (bool, error)
}

// SlotPurger removes a user's slots when the worker is purged.
type SlotPurger interface {
	DeleteByUser(ctx context.Context, userID int64) error
}

// Service gates who may work the pool and who administers it.
type Service struct {
	users    Users
	requests Requests
	slots    SlotPurger
	now      func() time.Time
}

// NewService constructs the access service. now may be nil for the wall clock.
func NewService(users Users, requests Requests, slots SlotPurger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, requests: requests, slots: slots, now: now}
}

// EnsureUser registers the user on first contact as pending with no roles.
func (s *Service) EnsureUser(ctx context.Context, userID int64, username string) error {
	return s.users.Ensure(ctx, userID, username, StatusPending, "")
}

// IsAdmin reports whether the user carries the admin role.
func (s *Service) IsAdmin(ctx context.Context, userID int64) bool {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return false
	}
	return u.HasRole(RoleAdmin)
}

// IsEligibleWorker reports whether the user may work the pool: approved
// status, or an explicit worker or admin role.
func (s *Service) IsEligibleWorker(ctx context.Context, userID int64) bool {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return false
	}
	return u.Status == StatusApproved || u.HasRole(RoleWorker) || u.HasRole(RoleAdmin)
}

// Apply opens an access application. Approved users, users with an open
// application and users inside the cooldown window are turned away.
func (s *Service) Apply(ctx context.Context, userID int64, username string) error {
	if err := s.EnsureUser(ctx, userID, username); err != nil {
		return err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Status == StatusApproved {
		return ErrAlreadyApproved
	}
	now := s.now()
	if u.LastRequestTime.Valid && now.Sub(u.LastRequestTime.Time) < ApplyCooldown {
		return ErrCooldown
	}
	pending, err := s.requests.HasPending(ctx, userID)
	if err != nil {
		return err
	}
	if pending {
		return ErrAlreadyPending
	}
	if err := s.requests.Insert(ctx, userID, username, now); err != nil {
		return err
	}
	if err := s.users.UpdateLastRequest(ctx, userID, now); err != nil {
		return err
	}
	logger.Info(ctx, "service.access", "application.opened",
		slog.Int64("owner_id", userID), slog.String("username", username))
	return nil
}

// Approve grants worker access. A request already handled by another admin
// returns domain.ErrNotFound.
func (s *Service) Approve(ctx context.Context, userID int64) error {
	handled, err := s.requests.Resolve(ctx, userID, "approved")
	if err != nil {
		return err
	}
	if !handled {
		return domain.ErrNotFound
	}
	if err := s.users.SetStatus(ctx, userID, StatusApproved); err != nil {
		return err
	}
	if err := s.AddRole(ctx, userID, RoleWorker); err != nil {
		return err
	}
	logger.Info(ctx, "service.access", "application.approved", slog.Int64("owner_id", userID))
	return nil
}

// Reject closes the application without granting access.
func (s *Service) Reject(ctx context.Context, userID int64) error {
	handled, err := s.requests.Resolve(ctx, userID, "rejected")
	if err != nil {
		return err
	}
	if !handled {
		return domain.ErrNotFound
	}
	logger.Info(ctx, "service.access", "application.rejected", slog.Int64("owner_id", userID))
	return nil
}

// AddRole appends a role to the user's role list if absent.
func (s *Service) AddRole(ctx context.Context, userID int64, role string) error {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.HasRole(role) {
		return nil
	}
	roles := role
	if strings.TrimSpace(u.Roles) != "" {
		roles = u.Roles + "," + role
	}
	return s.users.SetRoles(ctx, userID, roles)
}

// RemoveRole drops a role from the user's role list.
func (s *Service) RemoveRole(ctx context.Context, userID int64, role string) error {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	var kept []string
	for _, r := range strings.Split(u.Roles, ",") {
		r = strings.TrimSpace(r)
		if r != "" && r != role {
			kept = append(kept, r)
		}
	}
	return s.users.SetRoles(ctx, userID, strings.Join(kept, ","))
}

// ListAdmins returns every user with the admin role.
func (s *Service) ListAdmins(ctx context.Context) ([]domain.User, error) {
	return s.users.ListByRole(ctx, RoleAdmin)
}

// ListWorkers returns every user with the worker role.
func (s *Service) ListWorkers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListByRole(ctx, RoleWorker)
}

// ListPending returns open access applications.
func (s *Service) ListPending(ctx context.Context) ([]domain.AccessRequest, error) {
	return s.requests.ListPending(ctx)
}

// RemoveWorker purges a worker entirely: their submitted and leased slots,
// any open application, and the user row.
func (s *Service) RemoveWorker(ctx context.Context, userID int64) error {
	if err := s.slots.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("remove worker slots: %w", err)
	}
	if _, err := s.requests.Resolve(ctx, userID, "rejected"); err != nil {
		return fmt.Errorf("remove worker requests: %w", err)
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("remove worker user: %w", err)
	}
	logger.Info(ctx, "service.access", "worker.removed", slog.Int64("owner_id", userID))
	return nil
}
