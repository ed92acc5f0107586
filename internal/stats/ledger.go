package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/numbot/core/logger"
	"github.com/m3rciful/numbot/internal/domain"
)

// Repo is the persistence slice the ledger needs.
type Repo interface {
	RecordAttempt(ctx context.Context, day time.Time, service domain.Service) error
	RecordSuccess(ctx context.Context, day time.Time, service domain.Service) error
	Day(ctx context.Context, day time.Time) (domain.DailyStats, error)
	CopyToWindow(ctx context.Context, day time.Time) error
	PruneWindow(ctx context.Context, before time.Time) error
	Window(ctx context.Context, from time.Time) ([]domain.DailyStats, error)
}

// WindowDays is the rolling retention span.
const WindowDays = 7

// Ledger tracks daily per-service outcomes and maintains the rolling
// 7-day window.
type Ledger struct {
	repo Repo
	now  func() time.Time

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewLedger constructs a Ledger. now may be nil for the wall clock.
func NewLedger(repo Repo, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now}
}

// RecordAttempt counts an issuance for today.
func (l *Ledger) RecordAttempt(ctx context.Context, service domain.Service) error {
	return l.repo.RecordAttempt(ctx, l.today(), service)
}

// RecordSuccess counts a success outcome for today: success and total both
// go up by one.
func (l *Ledger) RecordSuccess(ctx context.Context, service domain.Service) error {
	return l.repo.RecordSuccess(ctx, l.today(), service)
}

// Snapshot returns today's record. A day with no outcomes yet yields a zero
// record, never an error.
func (l *Ledger) Snapshot(ctx context.Context) (domain.DailyStats, error) {
	day := l.today()
	rec, err := l.repo.Day(ctx, day)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DailyStats{Date: day}, nil
	}
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("stats snapshot: %w", err)
	}
	return rec, nil
}

// Window returns the rolling-window records covering the last 7 days.
func (l *Ledger) Window(ctx context.Context) ([]domain.DailyStats, error) {
	from := l.today().AddDate(0, 0, -WindowDays)
	return l.repo.Window(ctx, from)
}

// RetentionSweep copies yesterday's record into the window table and prunes
// entries older than 7 days. Idempotent within a day: re-entry is a no-op.
func (l *Ledger) RetentionSweep(ctx context.Context) error {
	today := l.today()

	l.sweepMu.Lock()
	if l.lastSweep.Equal(today) {
		l.sweepMu.Unlock()
		logger.Debug(ctx, "service.stats", "retention.already_swept")
		return nil
	}
	l.lastSweep = today
	l.sweepMu.Unlock()

	yesterday := today.AddDate(0, 0, -1)
	if err := l.repo.CopyToWindow(ctx, yesterday); err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	cutoff := today.AddDate(0, 0, -WindowDays)
	if err := l.repo.PruneWindow(ctx, cutoff); err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	logger.Info(ctx, "service.stats", "retention.swept",
		slog.String("kept_from", cutoff.Format("2006-01-02")))
	return nil
}

func (l *Ledger) today() time.Time {
	t := l.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
