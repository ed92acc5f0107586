package pool

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbot/internal/domain"
)

type memStore struct {
	mu    sync.Mutex
	slots map[string]*domain.Slot
}

func newMemStore() *memStore {
	return &memStore{slots: make(map[string]*domain.Slot)}
}

func (m *memStore) add(number string, service domain.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[number] = &domain.Slot{
		Number:  number,
		Service: service,
		OwnerID: 1,
		AddedAt: time.Now(),
	}
}

func (m *memStore) Get(_ context.Context, number string) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[number]
	if !ok {
		return domain.Slot{}, domain.ErrNotFound
	}
	return *s, nil
}

func (m *memStore) AvailableNumbers(_ context.Context, service domain.Service) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.slots {
		if s.Service == service && !s.IssuedTo.Valid {
			out = append(out, s.Number)
		}
	}
	return out, nil
}

func (m *memStore) Issue(_ context.Context, number string, to int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[number]
	if !ok || s.IssuedTo.Valid {
		return domain.ErrNotFound
	}
	s.IssuedTo = sql.NullInt64{Int64: to, Valid: true}
	s.IssuedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (m *memStore) ReleaseLease(_ context.Context, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[number]; ok {
		s.IssuedTo = sql.NullInt64{}
		s.IssuedAt = sql.NullTime{}
	}
	return nil
}

func (m *memStore) MarkSuccess(_ context.Context, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[number]
	if !ok {
		return domain.ErrNotFound
	}
	s.Success = true
	return nil
}

func (m *memStore) Delete(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[number]; !ok {
		return false, nil
	}
	delete(m.slots, number)
	return true, nil
}

type memCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *memCounter) Increment(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

func (c *memCounter) Decrement(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n--
	return c.n, nil
}

func (c *memCounter) value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type memLedger struct {
	mu        sync.Mutex
	attempts  map[domain.Service]int
	successes map[domain.Service]int
}

func newMemLedger() *memLedger {
	return &memLedger{
		attempts:  make(map[domain.Service]int),
		successes: make(map[domain.Service]int),
	}
}

func (l *memLedger) RecordAttempt(_ context.Context, service domain.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[service]++
	return nil
}

func (l *memLedger) RecordSuccess(_ context.Context, service domain.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes[service]++
	return nil
}

func newTestAllocator(store *memStore, counter *memCounter, ledger *memLedger) *Allocator {
	return NewAllocator(store, counter, ledger, Options{
		TTL:  10 * time.Minute,
		Rand: rand.New(rand.NewSource(42)),
	})
}

func TestAllocateIssuesAndCounts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	ledger := newMemLedger()
	alloc := newTestAllocator(store, counter, ledger)

	var armed string
	alloc.SetArm(func(number string, at time.Time) { armed = number })

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)
	require.Equal(t, "5550000001", slot.Number)
	require.True(t, slot.Leased())
	require.EqualValues(t, 77, slot.IssuedTo.Int64)
	require.EqualValues(t, 1, counter.value())
	require.Equal(t, 1, ledger.attempts[domain.ServiceWhatsapp])
	require.Equal(t, "5550000001", armed)
}

func TestAllocateEmptyPool(t *testing.T) {
	alloc := newTestAllocator(newMemStore(), &memCounter{}, newMemLedger())
	_, err := alloc.Allocate(context.Background(), domain.ServiceTelegram, 77)
	require.ErrorIs(t, err, domain.ErrNoCandidates)
}

func TestAllocateNeverDoubleLeases(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	for _, n := range []string{"5550000001", "5550000002", "5550000003"} {
		store.add(n, domain.ServiceWhatsapp)
	}
	alloc := newTestAllocator(store, &memCounter{}, newMemLedger())

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, int64(100+i))
		require.NoError(t, err)
		require.False(t, seen[slot.Number], "number %s issued twice", slot.Number)
		seen[slot.Number] = true
	}
	_, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 200)
	require.ErrorIs(t, err, domain.ErrNoCandidates)
}

func TestRingAvoidsImmediateRepeat(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	for _, n := range []string{"5550000001", "5550000002", "5550000003", "5550000004"} {
		store.add(n, domain.ServiceWhatsapp)
	}
	alloc := newTestAllocator(store, &memCounter{}, newMemLedger())

	prev := ""
	for i := 0; i < 100; i++ {
		slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
		require.NoError(t, err)
		require.NotEqual(t, prev, slot.Number, "draw %d repeated the previous number", i)
		prev = slot.Number
		require.NoError(t, alloc.Release(ctx, slot.Number))
	}
}

func TestRingResetsWhenExclusionEmptiesPool(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	alloc := newTestAllocator(store, &memCounter{}, newMemLedger())

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(ctx, slot.Number))

	// The only candidate is the one just issued; the draw must still succeed.
	slot, err = alloc.Allocate(ctx, domain.ServiceWhatsapp, 78)
	require.NoError(t, err)
	require.Equal(t, "5550000001", slot.Number)
}

func TestReplaceReturnsDifferentNumberAndFreesOld(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	store.add("5550000002", domain.ServiceWhatsapp)
	counter := &memCounter{}
	ledger := newMemLedger()
	alloc := newTestAllocator(store, counter, ledger)

	first, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)

	replacement, err := alloc.Replace(ctx, first.Number, 77)
	require.NoError(t, err)
	require.NotEqual(t, first.Number, replacement.Number)
	require.True(t, replacement.Leased())

	old, err := store.Get(ctx, first.Number)
	require.NoError(t, err)
	require.False(t, old.Leased())

	// Replace counts neither an attempt nor a counter bump.
	require.EqualValues(t, 1, counter.value())
	require.Equal(t, 1, ledger.attempts[domain.ServiceWhatsapp])
}

func TestReplaceWithoutAlternativeKeepsLease(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	alloc := newTestAllocator(store, counter, newMemLedger())

	first, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)

	// The only slot of the service is the one being swapped out; the swap
	// must fail without handing the same number back or dropping the lease.
	_, err = alloc.Replace(ctx, first.Number, 77)
	require.ErrorIs(t, err, domain.ErrNoCandidates)

	kept, err := store.Get(ctx, first.Number)
	require.NoError(t, err)
	require.True(t, kept.Leased())
	require.EqualValues(t, 77, kept.IssuedTo.Int64)
	require.EqualValues(t, 1, counter.value())
}

func TestReplaceUnleasedNumber(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	alloc := newTestAllocator(store, &memCounter{}, newMemLedger())

	_, err := alloc.Replace(ctx, "5550000001", 77)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailDeletesAndDecrements(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	alloc := newTestAllocator(store, counter, newMemLedger())

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)
	require.NoError(t, alloc.Fail(ctx, slot.Number))
	require.EqualValues(t, 0, counter.value())

	_, err = store.Get(ctx, slot.Number)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Burning again reports the slot gone and leaves the counter alone.
	require.ErrorIs(t, alloc.Fail(ctx, slot.Number), domain.ErrNotFound)
	require.EqualValues(t, 0, counter.value())
}

func TestMarkSuccessCountsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceTelegram)
	ledger := newMemLedger()
	alloc := newTestAllocator(store, &memCounter{}, ledger)

	slot, err := alloc.Allocate(ctx, domain.ServiceTelegram, 77)
	require.NoError(t, err)
	require.NoError(t, alloc.MarkSuccess(ctx, slot.Number))
	require.Equal(t, 1, ledger.successes[domain.ServiceTelegram])
	require.Equal(t, 1, ledger.attempts[domain.ServiceTelegram])
}

func TestFinalizeExpiresUnconfirmedLease(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	alloc := newTestAllocator(store, counter, newMemLedger())

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)

	outcome, finalized, err := alloc.Finalize(ctx, slot.Number)
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, outcome)
	require.EqualValues(t, 77, finalized.IssuedTo.Int64)
	require.EqualValues(t, 0, counter.value())

	// A second fire for the same number is a no-op.
	outcome, _, err = alloc.Finalize(ctx, slot.Number)
	require.NoError(t, err)
	require.Equal(t, OutcomeGone, outcome)
	require.EqualValues(t, 0, counter.value())
}

func TestFinalizeKeepsConfirmedSlot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	alloc := newTestAllocator(store, counter, newMemLedger())

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)
	require.NoError(t, alloc.MarkSuccess(ctx, slot.Number))

	outcome, _, err := alloc.Finalize(ctx, slot.Number)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, outcome)
	require.EqualValues(t, 1, counter.value())

	kept, err := store.Get(ctx, slot.Number)
	require.NoError(t, err)
	require.True(t, kept.Success)
	require.True(t, kept.Leased())
}

func TestFinalizeReleasedLeaseIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.add("5550000001", domain.ServiceWhatsapp)
	counter := &memCounter{}
	alloc := newTestAllocator(store, counter, newMemLedger())

	slot, err := alloc.Allocate(ctx, domain.ServiceWhatsapp, 77)
	require.NoError(t, err)
	require.NoError(t, alloc.Release(ctx, slot.Number))

	outcome, _, err := alloc.Finalize(ctx, slot.Number)
	require.NoError(t, err)
	require.Equal(t, OutcomeGone, outcome)
	require.EqualValues(t, 1, counter.value())

	_, err = store.Get(ctx, slot.Number)
	require.NoError(t, err)
}
