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

// SlotRepo persists number slots. The slots table is the single source of
// truth for lease state; every mutation here is a single atomic statement.
type SlotRepo struct {
	db *sqlx.DB
}

// NewSlotRepo constructs a SlotRepo backed by the provided database handle.
func NewSlotRepo(db *sqlx.DB) *SlotRepo {
	return &SlotRepo{db: db}
}

// Add inserts a slot unless the number already exists. It reports whether a
// row was actually inserted, which callers use for the ingestion tally.
func (r *SlotRepo) Add(ctx context.Context, number string, service domain.Service, ownerID int64, addedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO slots (number, service, owner_id, added_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (number) DO NOTHING`,
		number, service, ownerID, addedAt,
	)
	if err != nil {
		return false, fmt.Errorf("slot add: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("slot add: %w", err)
	}
	return n > 0, nil
}

// Get returns the slot for a number or domain.ErrNotFound.
func (r *SlotRepo) Get(ctx context.Context, number string) (domain.Slot, error) {
	var slot domain.Slot
	err := r.db.GetContext(ctx, &slot,
		`SELECT number, service, owner_id, issued_to, issued_at, success, added_at
		 FROM slots WHERE number = $1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Slot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Slot{}, fmt.Errorf("slot get: %w", err)
	}
	return slot, nil
}

// AvailableNumbers lists every unleased number for a service.
func (r *SlotRepo) AvailableNumbers(ctx context.Context, service domain.Service) ([]string, error) {
	var numbers []string
	err := r.db.SelectContext(ctx, &numbers,
		`SELECT number FROM slots WHERE service = $1 AND issued_to IS NULL ORDER BY added_at`, service)
	if err != nil {
		return nil, fmt.Errorf("slot available: %w", err)
	}
	return numbers, nil
}

// Issue leases an unleased slot to a requester. The issued_to IS NULL guard
// makes concurrent draws of the same number lose cleanly: the loser sees
// domain.ErrNotFound and redraws.
func (r *SlotRepo) Issue(ctx context.Context, number string, to int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE slots SET issued_to = $2, issued_at = $3
		 WHERE number = $1 AND issued_to IS NULL`,
		number, to, at,
	)
	if err != nil {
		return fmt.Errorf("slot issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slot issue: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReleaseLease clears the lease columns, returning the slot to the pool.
func (r *SlotRepo) ReleaseLease(ctx context.Context, number string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE slots SET issued_to = NULL, issued_at = NULL WHERE number = $1`, number)
	if err != nil {
		return fmt.Errorf("slot release: %w", err)
	}
	return nil
}

// MarkSuccess flags the slot as confirmed. The row stays until the daily reset.
func (r *SlotRepo) MarkSuccess(ctx context.Context, number string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE slots SET success = TRUE WHERE number = $1`, number)
	if err != nil {
		return fmt.Errorf("slot mark success: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slot mark success: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the slot row outright and reports whether it existed.
func (r *SlotRepo) Delete(ctx context.Context, number string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM slots WHERE number = $1`, number)
	if err != nil {
		return false, fmt.Errorf("slot delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("slot delete: %w", err)
	}
	return n > 0, nil
}

// DeleteAll wipes the pool and returns the number of deleted slots.
func (r *SlotRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM slots`)
	if err != nil {
		return 0, fmt.Errorf("slot delete all: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("slot delete all: %w", err)
	}
	return n, nil
}

// DeleteByUser removes every slot the user submitted or currently leases.
func (r *SlotRepo) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM slots WHERE owner_id = $1 OR issued_to = $1`, userID)
	if err != nil {
		return fmt.Errorf("slot delete by user: %w", err)
	}
	return nil
}
