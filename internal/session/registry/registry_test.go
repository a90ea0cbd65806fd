package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/security"
	"nexabank-auth/backend/internal/session/domain"
	"nexabank-auth/backend/internal/session/repository"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(repo repository.Repository) *Registry {
	return New(repo, nil, time.Second, zerolog.Nop()).WithClock(func() time.Time { return epoch })
}

func params(principalID, suffix string, exclusive bool) CreateParams {
	return CreateParams{
		PrincipalID:      principalID,
		AccessToken:      "access-" + suffix,
		RefreshToken:     "refresh-" + suffix,
		AccessExpiresAt:  epoch.Add(time.Hour),
		RefreshExpiresAt: epoch.Add(24 * time.Hour),
		Exclusive:        exclusive,
		Metadata:         domain.Metadata{IPAddress: "192.0.2.10"},
	}
}

func TestRegistry_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	reg := newRegistry(repo)

	s, err := reg.Create(ctx, params("p-1", "a", false))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Active)
	assert.Equal(t, security.HashToken("access-a"), s.AccessTokenHash)
	assert.NotContains(t, s.AccessTokenHash, "access-a")

	byAccess, err := reg.FindByAccessToken(ctx, "access-a")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byAccess.ID)

	byRefresh, err := reg.FindByRefreshToken(ctx, "refresh-a")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byRefresh.ID)

	_, err = reg.FindByAccessToken(ctx, "refresh-a")
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound)
	_, err = reg.FindByAccessToken(ctx, "")
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound)
}

func TestRegistry_CreateValidates(t *testing.T) {
	_, err := newRegistry(repository.NewMemoryRepository()).Create(context.Background(), CreateParams{PrincipalID: "p-1"})
	assert.ErrorIs(t, err, autherr.ErrInvalidRequest)
}

func TestRegistry_SingleActiveSession(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())

	first, err := reg.Create(ctx, params("p-1", "1", true))
	require.NoError(t, err)
	other, err := reg.Create(ctx, params("p-2", "other", true))
	require.NoError(t, err)
	second, err := reg.Create(ctx, params("p-1", "2", true))
	require.NoError(t, err)

	got, err := reg.FindByAccessToken(ctx, "access-1")
	require.NoError(t, err)
	assert.False(t, got.Active, "earlier session of the same principal must be deactivated")
	assert.Equal(t, first.ID, got.ID)

	got, err = reg.FindByAccessToken(ctx, "access-2")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, second.ID, got.ID)

	got, err = reg.FindByAccessToken(ctx, "access-other")
	require.NoError(t, err)
	assert.True(t, got.Active, "other principals are unaffected")
	assert.Equal(t, other.ID, got.ID)
}

func TestRegistry_NonExclusiveKeepsSessions(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())
	_, err := reg.Create(ctx, params("p-1", "1", true))
	require.NoError(t, err)
	_, err = reg.Create(ctx, params("p-1", "2", false))
	require.NoError(t, err)

	for _, tok := range []string{"access-1", "access-2"} {
		s, err := reg.FindByAccessToken(ctx, tok)
		require.NoError(t, err)
		assert.True(t, s.Active, tok)
	}
}

func TestRegistry_ConcurrentExclusiveCreatesLeaveOneActive(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	reg := newRegistry(repo)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Create(ctx, params("p-1", fmt.Sprint(i), true))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active := 0
	for i := 0; i < n; i++ {
		s, err := reg.FindByAccessToken(ctx, fmt.Sprintf("access-%d", i))
		require.NoError(t, err)
		if s.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestRegistry_Rotate(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())
	s, err := reg.Create(ctx, params("p-1", "a", false))
	require.NoError(t, err)

	rotate := RotateParams{
		SessionID:        s.ID,
		OldRefreshToken:  "refresh-a",
		AccessToken:      "access-b",
		RefreshToken:     "refresh-b",
		AccessExpiresAt:  epoch.Add(2 * time.Hour),
		RefreshExpiresAt: epoch.Add(48 * time.Hour),
	}
	rotated, err := reg.Rotate(ctx, rotate)
	require.NoError(t, err)
	assert.Equal(t, s.ID, rotated.ID)
	require.NotNil(t, rotated.RotatedAt)

	_, err = reg.FindByAccessToken(ctx, "access-a")
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound)
	_, err = reg.FindByAccessToken(ctx, "access-b")
	assert.NoError(t, err)

	replay := rotate
	replay.AccessToken, replay.RefreshToken = "access-c", "refresh-c"
	_, err = reg.Rotate(ctx, replay)
	assert.ErrorIs(t, err, autherr.ErrSessionInactive)
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestRegistry_ConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())
	s, err := reg.Create(ctx, params("p-1", "a", false))
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Rotate(ctx, RotateParams{
				SessionID:        s.ID,
				OldRefreshToken:  "refresh-a",
				AccessToken:      fmt.Sprintf("access-r%d", i),
				RefreshToken:     fmt.Sprintf("refresh-r%d", i),
				AccessExpiresAt:  epoch.Add(time.Hour),
				RefreshExpiresAt: epoch.Add(time.Hour),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, autherr.ErrSessionInactive)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRegistry_DeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())
	s, err := reg.Create(ctx, params("p-1", "a", false))
	require.NoError(t, err)

	require.NoError(t, reg.Deactivate(ctx, s.ID))
	require.NoError(t, reg.Deactivate(ctx, s.ID))
	require.NoError(t, reg.Deactivate(ctx, "unknown"))

	got, err := reg.FindByAccessToken(ctx, "access-a")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestRegistry_DeactivateAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())
	for i := 0; i < 3; i++ {
		_, err := reg.Create(ctx, params("p-1", fmt.Sprint(i), false))
		require.NoError(t, err)
	}
	n, err := reg.DeactivateAllForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = reg.DeactivateAllForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_SweepExpired(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	reg := newRegistry(repo)
	_, err := reg.Create(ctx, params("p-1", "live", false))
	require.NoError(t, err)
	dead, err := reg.Create(ctx, params("p-2", "dead", false))
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(ctx, dead.ID))

	n, err := reg.SweepExpired(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, repo.Len())

	n, err = reg.SweepExpired(ctx, epoch.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, repo.Len())
}

// brokenRepo simulates a store outage on lookups and a hung store on Touch.
type brokenRepo struct {
	*repository.MemoryRepository
}

func (brokenRepo) GetByAccessHash(context.Context, string) (*domain.Session, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (brokenRepo) Touch(ctx context.Context, _ string, _ time.Time) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegistry_StoreFailuresAreUnavailable(t *testing.T) {
	ctx := context.Background()
	reg := New(brokenRepo{repository.NewMemoryRepository()}, nil, 20*time.Millisecond, zerolog.Nop())

	_, err := reg.FindByAccessToken(ctx, "access-a")
	assert.ErrorIs(t, err, autherr.ErrStoreUnavailable)

	start := time.Now()
	err = reg.Touch(ctx, "s-1")
	assert.ErrorIs(t, err, autherr.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_ListActiveAndRevoke(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(repository.NewMemoryRepository())

	a, err := reg.Create(ctx, params("p-1", "a", false))
	require.NoError(t, err)
	b, err := reg.Create(ctx, params("p-1", "b", false))
	require.NoError(t, err)
	_, err = reg.Create(ctx, params("p-2", "c", false))
	require.NoError(t, err)

	list, err := reg.ListActive(ctx, "p-1")
	require.NoError(t, err)
	ids := []string{}
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	_, _, err = reg.Revoke(ctx, "p-2", a.ID)
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound, "another principal's session is invisible")
	_, _, err = reg.Revoke(ctx, "p-1", "missing")
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound)

	revoked, wasActive, err := reg.Revoke(ctx, "p-1", a.ID)
	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.Equal(t, a.AccessTokenHash, revoked.AccessTokenHash)

	_, wasActive, err = reg.Revoke(ctx, "p-1", a.ID)
	require.NoError(t, err)
	assert.False(t, wasActive)

	list, err = reg.ListActive(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}
