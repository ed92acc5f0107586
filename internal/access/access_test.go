package access

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbot/internal/domain"
)

type fakeUsers struct {
	users map[int64]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*domain.User)}
}

func (f *fakeUsers) Ensure(_ context.Context, userID int64, username, status, roles string) error {
	if u, ok := f.users[userID]; ok {
		u.Username = username
		return nil
	}
	f.users[userID] = &domain.User{UserID: userID, Username: username, Status: status, Roles: roles}
	return nil
}

func (f *fakeUsers) Get(_ context.Context, userID int64) (domain.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (f *fakeUsers) SetStatus(_ context.Context, userID int64, status string) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Status = status
	return nil
}

func (f *fakeUsers) SetRoles(_ context.Context, userID int64, roles string) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Roles = roles
	return nil
}

func (f *fakeUsers) UpdateLastRequest(_ context.Context, userID int64, at time.Time) error {
	if u, ok := f.users[userID]; ok {
		u.LastRequestTime = sql.NullTime{Time: at, Valid: true}
	}
	return nil
}

func (f *fakeUsers) ListByRole(_ context.Context, role string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range f.users {
		if u.HasRole(role) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) Delete(_ context.Context, userID int64) error {
	delete(f.users, userID)
	return nil
}

type fakeRequests struct {
	pending  map[int64]bool
	resolved map[int64]string
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{pending: make(map[int64]bool), resolved: make(map[int64]string)}
}

func (f *fakeRequests) Insert(_ context.Context, userID int64, _ string, _ time.Time) error {
	f.pending[userID] = true
	return nil
}

func (f *fakeRequests) Resolve(_ context.Context, userID int64, status string) (bool, error) {
	if !f.pending[userID] {
		return false, nil
	}
	delete(f.pending, userID)
	f.resolved[userID] = status
	return true, nil
}

func (f *fakeRequests) ListPending(context.Context) ([]domain.AccessRequest, error) {
	var out []domain.AccessRequest
	for id := range f.pending {
		out = append(out, domain.AccessRequest{UserID: id, Status: "pending"})
	}
	return out, nil
}

func (f *fakeRequests) HasPending(_ context.Context, userID int64) (bool, error) {
	return f.pending[userID], nil
}

type fakePurger struct{ purged []int64 }

func (f *fakePurger) DeleteByUser(_ context.Context, userID int64) error {
	f.purged = append(f.purged, userID)
	return nil
}

func newTestService() (*Service, *fakeUsers, *fakeRequests, *fakePurger, *time.Time) {
	users := newFakeUsers()
	requests := newFakeRequests()
	purger := &fakePurger{}
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc := NewService(users, requests, purger, func() time.Time { return now })
	return svc, users, requests, purger, &now
}

func TestApplyApproveGrantsWorker(t *testing.T) {
	ctx := context.Background()
	svc, users, requests, _, _ := newTestService()

	require.NoError(t, svc.Apply(ctx, 7, "ann"))
	require.True(t, requests.pending[7])
	require.False(t, svc.IsEligibleWorker(ctx, 7))

	require.NoError(t, svc.Approve(ctx, 7))
	require.True(t, svc.IsEligibleWorker(ctx, 7))
	require.True(t, users.users[7].HasRole(RoleWorker))
	require.Equal(t, StatusApproved, users.users[7].Status)
}

func TestApproveTwiceReportsHandled(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newTestService()

	require.NoError(t, svc.Apply(ctx, 7, "ann"))
	require.NoError(t, svc.Approve(ctx, 7))
	require.ErrorIs(t, svc.Approve(ctx, 7), domain.ErrNotFound)
}

func TestApplyCooldown(t *testing.T) {
	ctx := context.Background()
	svc, _, requests, _, now := newTestService()

	require.NoError(t, svc.Apply(ctx, 7, "ann"))
	require.NoError(t, svc.Reject(ctx, 7))
	require.Equal(t, "rejected", requests.resolved[7])

	// Too soon after the first application.
	*now = now.Add(5 * time.Second)
	require.ErrorIs(t, svc.Apply(ctx, 7, "ann"), ErrCooldown)

	// After the window the user may re-apply.
	*now = now.Add(ApplyCooldown)
	require.NoError(t, svc.Apply(ctx, 7, "ann"))
}

func TestApplyWhileApprovedOrPending(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, now := newTestService()

	require.NoError(t, svc.Apply(ctx, 7, "ann"))
	*now = now.Add(time.Minute)
	require.ErrorIs(t, svc.Apply(ctx, 7, "ann"), ErrAlreadyPending)

	require.NoError(t, svc.Approve(ctx, 7))
	*now = now.Add(time.Minute)
	require.ErrorIs(t, svc.Apply(ctx, 7, "ann"), ErrAlreadyApproved)
}

func TestRoleAddRemove(t *testing.T) {
	ctx := context.Background()
	svc, users, _, _, _ := newTestService()
	require.NoError(t, svc.EnsureUser(ctx, 9, "bob"))

	require.NoError(t, svc.AddRole(ctx, 9, RoleWorker))
	require.NoError(t, svc.AddRole(ctx, 9, RoleAdmin))
	require.NoError(t, svc.AddRole(ctx, 9, RoleAdmin)) // no duplicate
	require.Equal(t, "worker,admin", users.users[9].Roles)
	require.True(t, svc.IsAdmin(ctx, 9))

	require.NoError(t, svc.RemoveRole(ctx, 9, RoleWorker))
	require.Equal(t, "admin", users.users[9].Roles)
	require.True(t, svc.IsEligibleWorker(ctx, 9))
}

func TestRemoveWorkerPurges(t *testing.T) {
	ctx := context.Background()
	svc, users, _, purger, _ := newTestService()

	require.NoError(t, svc.Apply(ctx, 7, "ann"))
	require.NoError(t, svc.Approve(ctx, 7))

	require.NoError(t, svc.RemoveWorker(ctx, 7))
	require.Equal(t, []int64{7}, purger.purged)
	require.NotContains(t, users.users, int64(7))
	require.False(t, svc.IsEligibleWorker(ctx, 7))
}
