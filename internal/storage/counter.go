package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CounterRepo manages the single-row slot counter. Increments and decrements
// run as atomic in-database updates so concurrent triggers never lose one.
type CounterRepo struct {
	db *sqlx.DB
}

// NewCounterRepo constructs a CounterRepo backed by the provided database handle.
func NewCounterRepo(db *sqlx.DB) *CounterRepo {
	return &CounterRepo{db: db}
}

// EnsureRow seeds the counter row if it does not exist yet.
func (r *CounterRepo) EnsureRow(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO counter (id, count) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("counter ensure: %w", err)
	}
	return nil
}

// Increment bumps the counter and returns the new value.
func (r *CounterRepo) Increment(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.GetContext(ctx, &v,
		`UPDATE counter SET count = count + 1 WHERE id = 1 RETURNING count`)
	if err != nil {
		return 0, fmt.Errorf("counter increment: %w", err)
	}
	return v, nil
}

// Decrement lowers the counter and returns the new value. The counter is
// signed; it may go below zero when failures outnumber issuances after a reset.
func (r *CounterRepo) Decrement(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.GetContext(ctx, &v,
		`UPDATE counter SET count = count - 1 WHERE id = 1 RETURNING count`)
	if err != nil {
		return 0, fmt.Errorf("counter decrement: %w", err)
	}
	return v, nil
}

// Value reads the current counter value.
func (r *CounterRepo) Value(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.GetContext(ctx, &v, `SELECT count FROM counter WHERE id = 1`)
	if err != nil {
		return 0, fmt.Errorf("counter value: %w", err)
	}
	return v, nil
}

// Reset zeroes the counter.
func (r *CounterRepo) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE counter SET count = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("counter reset: %w", err)
	}
	return nil
}
