package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
	"github.com/nwatch/neighborwatch/internal/ports"
	"github.com/nwatch/neighborwatch/internal/testutil"
)

func newTestUserRepo(t *testing.T) *UserRepo {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewUserRepoWithTimeProvider(db, NewFixedTimeProvider(testutil.TestTime()))
}

func TestUserRepo_CreateAndGet(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.CreateUserRequest{
		UID:   " officer-1 ",
		Email: "officer@example.com",
		Role:  "Police",
	})
	require.NoError(t, err)
	assert.Equal(t, "officer-1", created.UID)
	assert.Equal(t, domainauth.RolePolice, created.Role)
	assert.False(t, created.Approved)
	assert.True(t, created.CreatedAt.Equal(testutil.TestTime()))

	got, err := repo.GetByUID(ctx, "officer-1")
	require.NoError(t, err)
	assert.Equal(t, created.Email, got.Email)

	_, err = repo.Create(ctx, &model.CreateUserRequest{UID: "officer-1"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUserRepo_GetRecord(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	_, err := repo.GetRecord(ctx, "ghost")
	assert.ErrorIs(t, err, ports.ErrRecordNotFound)

	_, err = repo.Create(ctx, &model.CreateUserRequest{UID: "res-1", Role: domainauth.RoleResident, Approved: true})
	require.NoError(t, err)

	rec, err := repo.GetRecord(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, domainauth.AuthorizationRecord{UID: "res-1", Role: domainauth.RoleResident, Approved: true}, rec)
}

func TestUserRepo_SetApprovalAndRole(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &model.CreateUserRequest{UID: "u1", Role: domainauth.RolePolice})
	require.NoError(t, err)

	repo.timeProvider = NewFixedTimeProvider(testutil.TestTime().Add(time.Hour))
	approved, err := repo.SetApproval(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, approved.Approved)
	assert.True(t, approved.UpdatedAt.After(approved.CreatedAt))

	promoted, err := repo.SetRole(ctx, "u1", domainauth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, promoted.Role)

	_, err = repo.SetApproval(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.SetRole(ctx, "u1", domainauth.Role("mayor"))
	assert.Error(t, err)
}

func TestUserRepo_ListFilters(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	for _, req := range []model.CreateUserRequest{
		{UID: "r1", Role: domainauth.RoleResident, Approved: true},
		{UID: "p1", Role: domainauth.RolePolice},
		{UID: "p2", Role: domainauth.RolePolice, Approved: true},
	} {
		_, err := repo.Create(ctx, &req)
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, model.UsersListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	police := domainauth.RolePolice
	pending, err := repo.List(ctx, model.UsersListOptions{Role: &police, Approved: testutil.BoolPtr(false)})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].UID)

	page, err := repo.List(ctx, model.UsersListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
