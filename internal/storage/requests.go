package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/numbot/internal/domain"
)

// RequestRepo persists worker access applications.
type RequestRepo struct {
	db *sqlx.DB
}

// NewRequestRepo constructs a RequestRepo backed by the provided database handle.
func NewRequestRepo(db *sqlx.DB) *RequestRepo {
	return &RequestRepo{db: db}
}

// Insert records a new pending application.
func (r *RequestRepo) Insert(ctx context.Context, userID int64, username string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO requests (user_id, username, status, request_time)
		 VALUES ($1, $2, 'pending', $3)`,
		userID, username, at,
	)
	if err != nil {
		return fmt.Errorf("request insert: %w", err)
	}
	return nil
}

// Resolve moves the user's pending applications to the given terminal status.
// It reports whether any row was pending, so a second admin tapping the same
// approval card sees a clean "already handled" instead of a double grant.
func (r *RequestRepo) Resolve(ctx context.Context, userID int64, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE requests SET status = $2 WHERE user_id = $1 AND status = 'pending'`,
		userID, status,
	)
	if err != nil {
		return false, fmt.Errorf("request resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request resolve: %w", err)
	}
	return n > 0, nil
}

// ListPending returns pending applications oldest first.
func (r *RequestRepo) ListPending(ctx context.Context) ([]domain.AccessRequest, error) {
	var reqs []domain.AccessRequest
	err := r.db.SelectContext(ctx, &reqs,
		`SELECT request_id, user_id, username, status, request_time
		 FROM requests WHERE status = 'pending' ORDER BY request_time`)
	if err != nil {
		return nil, fmt.Errorf("request list pending: %w", err)
	}
	return reqs, nil
}

// HasPending reports whether the user already has an open application.
func (r *RequestRepo) HasPending(ctx context.Context, userID int64) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM requests WHERE user_id = $1 AND status = 'pending'`, userID)
	if err != nil {
		return false, fmt.Errorf("request has pending: %w", err)
	}
	return n > 0, nil
}
