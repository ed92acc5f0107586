package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbot/internal/domain"
)

type fakeRepo struct {
	days   map[string]*domain.DailyStats
	window map[string]*domain.DailyStats

	copies int
	prunes int
	cutoff time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		days:   make(map[string]*domain.DailyStats),
		window: make(map[string]*domain.DailyStats),
	}
}

func key(day time.Time) string { return day.Format("2006-01-02") }

func (f *fakeRepo) rec(day time.Time) *domain.DailyStats {
	k := key(day)
	r, ok := f.days[k]
	if !ok {
		r = &domain.DailyStats{Date: day}
		f.days[k] = r
	}
	return r
}

func (f *fakeRepo) RecordAttempt(_ context.Context, day time.Time, service domain.Service) error {
	r := f.rec(day)
	switch service {
	case domain.ServiceWhatsapp:
		r.WhatsappTotal++
	case domain.ServiceTelegram:
		r.TelegramTotal++
	}
	return nil
}

func (f *fakeRepo) RecordSuccess(_ context.Context, day time.Time, service domain.Service) error {
	r := f.rec(day)
	switch service {
	case domain.ServiceWhatsapp:
		r.WhatsappSuccess++
		r.WhatsappTotal++
	case domain.ServiceTelegram:
		r.TelegramSuccess++
		r.TelegramTotal++
	}
	return nil
}

func (f *fakeRepo) Day(_ context.Context, day time.Time) (domain.DailyStats, error) {
	if r, ok := f.days[key(day)]; ok {
		return *r, nil
	}
	return domain.DailyStats{}, domain.ErrNotFound
}

func (f *fakeRepo) CopyToWindow(_ context.Context, day time.Time) error {
	f.copies++
	if r, ok := f.days[key(day)]; ok {
		if _, exists := f.window[key(day)]; !exists {
			cp := *r
			f.window[key(day)] = &cp
		}
	}
	return nil
}

func (f *fakeRepo) PruneWindow(_ context.Context, before time.Time) error {
	f.prunes++
	f.cutoff = before
	for k, r := range f.window {
		if r.Date.Before(before) {
			delete(f.window, k)
		}
	}
	return nil
}

func (f *fakeRepo) Window(_ context.Context, from time.Time) ([]domain.DailyStats, error) {
	var out []domain.DailyStats
	for _, r := range f.window {
		if !r.Date.Before(from) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func fixedClock(day time.Time) func() time.Time {
	return func() time.Time { return day }
}

func TestSnapshotZeroWhenEmpty(t *testing.T) {
	day := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	l := NewLedger(newFakeRepo(), fixedClock(day))

	rec, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	require.Zero(t, rec.WhatsappTotal)
	require.Zero(t, rec.TelegramSuccess)
	require.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestAttemptAndSuccessArithmetic(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	l := NewLedger(repo, fixedClock(day))

	require.NoError(t, l.RecordAttempt(ctx, domain.ServiceWhatsapp))
	require.NoError(t, l.RecordAttempt(ctx, domain.ServiceWhatsapp))
	require.NoError(t, l.RecordSuccess(ctx, domain.ServiceWhatsapp))
	require.NoError(t, l.RecordAttempt(ctx, domain.ServiceTelegram))

	rec, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, rec.WhatsappTotal)
	require.Equal(t, 1, rec.WhatsappSuccess)
	require.Equal(t, 1, rec.TelegramTotal)
	require.Equal(t, 0, rec.TelegramSuccess)
}

func TestSuccessCountsTowardTotal(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	l := NewLedger(newFakeRepo(), fixedClock(day))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordSuccess(ctx, domain.ServiceTelegram))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, l.RecordAttempt(ctx, domain.ServiceTelegram))
	}

	rec, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, rec.TelegramSuccess)
	require.Equal(t, 5, rec.TelegramTotal)
}

func TestRetentionSweepOncePerDay(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	l := NewLedger(repo, fixedClock(day))

	require.NoError(t, l.RetentionSweep(ctx))
	require.NoError(t, l.RetentionSweep(ctx))
	require.Equal(t, 1, repo.copies)
	require.Equal(t, 1, repo.prunes)
	require.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), repo.cutoff)
}

func TestRetentionSweepCopiesYesterdayAndPrunes(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()

	yesterday := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	repo.days[key(yesterday)] = &domain.DailyStats{Date: yesterday, WhatsappTotal: 5, WhatsappSuccess: 3}
	stale := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	repo.window[key(stale)] = &domain.DailyStats{Date: stale}

	l := NewLedger(repo, fixedClock(time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)))
	require.NoError(t, l.RetentionSweep(ctx))

	require.Contains(t, repo.window, key(yesterday))
	require.NotContains(t, repo.window, key(stale))

	recs, err := l.Window(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, 5, recs[0].WhatsappTotal)
}
