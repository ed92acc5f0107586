package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/numbot/internal/domain"
)

// UserRepo persists registered users, their approval status and role list.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo backed by the provided database handle.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Ensure registers the user on first contact. Existing rows keep their status
// and roles; only the username is refreshed.
func (r *UserRepo) Ensure(ctx context.Context, userID int64, username, status, roles string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, status, roles)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username`,
		userID, username, status, roles,
	)
	if err != nil {
		return fmt.Errorf("user ensure: %w", err)
	}
	return nil
}

// Get returns the user or domain.ErrNotFound.
func (r *UserRepo) Get(ctx context.Context, userID int64) (domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u,
		`SELECT user_id, username, status, last_request_time, roles
		 FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("user get: %w", err)
	}
	return u, nil
}

// SetStatus updates the approval status.
func (r *UserRepo) SetStatus(ctx context.Context, userID int64, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $2 WHERE user_id = $1`, userID, status)
	if err != nil {
		return fmt.Errorf("user set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user set status: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetRoles replaces the comma-separated role list.
func (r *UserRepo) SetRoles(ctx context.Context, userID int64, roles string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET roles = $2 WHERE user_id = $1`, userID, roles)
	if err != nil {
		return fmt.Errorf("user set roles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user set roles: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateLastRequest records the time of the latest access application,
// backing the anti-spam cooldown.
func (r *UserRepo) UpdateLastRequest(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_request_time = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("user update last request: %w", err)
	}
	return nil
}

// ListByRole returns users whose role list contains the given role.
func (r *UserRepo) ListByRole(ctx context.Context, role string) ([]domain.User, error) {
	var users []domain.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT user_id, username, status, last_request_time, roles
		 FROM users
		 WHERE $1 = ANY(string_to_array(roles, ','))
		 ORDER BY user_id`, role)
	if err != nil {
		return nil, fmt.Errorf("user list by role: %w", err)
	}
	return users, nil
}

// Delete removes the user row.
func (r *UserRepo) Delete(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("user delete: %w", err)
	}
	return nil
}
