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

// StatsRepo persists the daily stats table and its 7-day rolling window.
type StatsRepo struct {
	db *sqlx.DB
}

// NewStatsRepo constructs a StatsRepo backed by the provided database handle.
func NewStatsRepo(db *sqlx.DB) *StatsRepo {
	return &StatsRepo{db: db}
}

// RecordAttempt bumps the day's total for a service. A single upsert keeps
// the read-modify-write atomic under concurrent issuances.
func (r *StatsRepo) RecordAttempt(ctx context.Context, day time.Time, service domain.Service) error {
	var query string
	switch service {
	case domain.ServiceWhatsapp:
		query = `INSERT INTO stats (date, whatsapp_success, whatsapp_total, telegram_success, telegram_total)
		         VALUES ($1, 0, 1, 0, 0)
		         ON CONFLICT (date) DO UPDATE
		         SET whatsapp_total = stats.whatsapp_total + 1`
	case domain.ServiceTelegram:
		query = `INSERT INTO stats (date, whatsapp_success, whatsapp_total, telegram_success, telegram_total)
		         VALUES ($1, 0, 0, 0, 1)
		         ON CONFLICT (date) DO UPDATE
		         SET telegram_total = stats.telegram_total + 1`
	default:
		return fmt.Errorf("stats attempt: unknown service %q: %w", service, domain.ErrInvalidInput)
	}
	if _, err := r.db.ExecContext(ctx, query, day); err != nil {
		return fmt.Errorf("stats attempt: %w", err)
	}
	return nil
}

// RecordSuccess counts a success outcome for a service: the day's success and
// total both go up by one. Totals track outcomes, not distinct numbers, so a
// confirmed lease contributes to the total at issuance and again here.
func (r *StatsRepo) RecordSuccess(ctx context.Context, day time.Time, service domain.Service) error {
	var query string
	switch service {
	case domain.ServiceWhatsapp:
		query = `INSERT INTO stats (date, whatsapp_success, whatsapp_total, telegram_success, telegram_total)
		         VALUES ($1, 1, 1, 0, 0)
		         ON CONFLICT (date) DO UPDATE
		         SET whatsapp_success = stats.whatsapp_success + 1,
		             whatsapp_total = stats.whatsapp_total + 1`
	case domain.ServiceTelegram:
		query = `INSERT INTO stats (date, whatsapp_success, whatsapp_total, telegram_success, telegram_total)
		         VALUES ($1, 0, 0, 1, 1)
		         ON CONFLICT (date) DO UPDATE
		         SET telegram_success = stats.telegram_success + 1,
		             telegram_total = stats.telegram_total + 1`
	default:
		return fmt.Errorf("stats success: unknown service %q: %w", service, domain.ErrInvalidInput)
	}
	if _, err := r.db.ExecContext(ctx, query, day); err != nil {
		return fmt.Errorf("stats success: %w", err)
	}
	return nil
}

// Day returns the record for a date or domain.ErrNotFound.
func (r *StatsRepo) Day(ctx context.Context, day time.Time) (domain.DailyStats, error) {
	var rec domain.DailyStats
	err := r.db.GetContext(ctx, &rec,
		`SELECT date, whatsapp_success, whatsapp_total, telegram_success, telegram_total
		 FROM stats WHERE date = $1`, day)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyStats{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("stats day: %w", err)
	}
	return rec, nil
}

// CopyToWindow copies a stats record into the rolling window table with
// insert-if-absent semantics, making the retention sweep idempotent.
func (r *StatsRepo) CopyToWindow(ctx context.Context, day time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO weekly_stats (date, whatsapp_success, whatsapp_total, telegram_success, telegram_total)
		 SELECT date, whatsapp_success, whatsapp_total, telegram_success, telegram_total
		 FROM stats WHERE date = $1
		 ON CONFLICT (date) DO NOTHING`, day)
	if err != nil {
		return fmt.Errorf("stats copy to window: %w", err)
	}
	return nil
}

// PruneWindow deletes window entries older than the cutoff date.
func (r *StatsRepo) PruneWindow(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM weekly_stats WHERE date < $1`, before)
	if err != nil {
		return fmt.Errorf("stats prune window: %w", err)
	}
	return nil
}

// Window lists rolling-window records from the given date onward, oldest first.
func (r *StatsRepo) Window(ctx context.Context, from time.Time) ([]domain.DailyStats, error) {
	var recs []domain.DailyStats
	err := r.db.SelectContext(ctx, &recs,
		`SELECT date, whatsapp_success, whatsapp_total, telegram_success, telegram_total
		 FROM weekly_stats WHERE date >= $1 ORDER BY date`, from)
	if err != nil {
		return nil, fmt.Errorf("stats window: %w", err)
	}
	return recs, nil
}
