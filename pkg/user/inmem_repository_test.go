package user

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/portal-auth/pkg/mfa"
)

func TestInMemoryRepository_Users(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	created, err := repo.CreateUser(ctx, User{Email: "  Client@Example.com ", Name: "Client", Active: true})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "client@example.com", created.Email)
	assert.Equal(t, ProviderCredentials, created.AuthProvider)

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		found, err := repo.FindUserByEmail(ctx, "CLIENT@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.CreateUser(ctx, User{Email: "client@example.com"})
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := repo.FindUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = repo.UpdateUser(ctx, uuid.New(), Patch{Name: strPtr("x")})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("patch updates mfa state as a unit", func(t *testing.T) {
		state := mfa.State{Method: mfa.MethodAuthenticator, TotpSecret: "cipher"}
		updated, err := repo.UpdateUser(ctx, created.ID, Patch{MFA: &state})
		require.NoError(t, err)
		assert.True(t, updated.MFA.TotpEnabled())
		assert.Equal(t, "Client", updated.Name, "fields outside the patch are untouched")
	})

	t.Run("empty patch", func(t *testing.T) {
		_, err := repo.UpdateUser(ctx, created.ID, Patch{})
		assert.ErrorIs(t, err, ErrEmptyPatch)
	})
}

func TestInMemoryRepository_BackupCodes(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	u, err := repo.CreateUser(ctx, User{Email: "client@example.com", Active: true})
	require.NoError(t, err)

	require.NoError(t, repo.CreateBackupCodes(ctx, u.ID, []string{"h1", "h2", "h3"}))
	first, err := repo.ListUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, first, 3)

	ok, err := repo.MarkBackupCodeUsed(ctx, first[0].ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkBackupCodeUsed(ctx, first[0].ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a used code cannot be used again")

	count, err := repo.CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("regeneration replaces the batch", func(t *testing.T) {
		require.NoError(t, repo.CreateBackupCodes(ctx, u.ID, []string{"n1", "n2"}))
		codes, err := repo.ListUnusedBackupCodes(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, codes, 2)
		for _, c := range codes {
			assert.NotEqual(t, first[1].ID, c.ID)
		}

		ok, err := repo.MarkBackupCodeUsed(ctx, first[1].ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "old batch codes are gone")
	})
}

func TestInMemoryRepository_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	u, err := repo.CreateUser(ctx, User{Email: "client@example.com"})
	require.NoError(t, err)
	require.NoError(t, repo.CreateBackupCodes(ctx, u.ID, []string{"h1"}))
	codes, err := repo.ListUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := repo.MarkBackupCodeUsed(ctx, codes[0].ID, time.Now()); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func strPtr(s string) *string { return &s }
