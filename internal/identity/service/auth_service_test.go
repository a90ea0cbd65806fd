package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/lockout"
	"nexabank-auth/backend/internal/platform/keylock"
	principaldomain "nexabank-auth/backend/internal/principal/domain"
	principalrepo "nexabank-auth/backend/internal/principal/repository"
	"nexabank-auth/backend/internal/propagation"
	"nexabank-auth/backend/internal/security"
	"nexabank-auth/backend/internal/session/denylist"
	sessiondomain "nexabank-auth/backend/internal/session/domain"
	"nexabank-auth/backend/internal/session/registry"
	sessionrepo "nexabank-auth/backend/internal/session/repository"
)

const testSecret = "Correct-Horse-9"

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) set(offset time.Duration) {
	c.mu.Lock()
	c.t = epoch.Add(offset)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	ids      []string
	profiles []map[string]string
}

func (n *recordingNotifier) NotifyPrincipalCreated(principalID string, profile map[string]string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, principalID)
	n.profiles = append(n.profiles, profile)
	done := make(chan struct{})
	close(done)
	return done
}

type harness struct {
	svc        *AuthService
	clock      *fakeClock
	hasher     *security.Hasher
	principals *principalrepo.MemoryRepository
	sessions   *sessionrepo.MemoryRepository
	denied     *denylist.Memory
	notifier   *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, principalrepo.NewMemoryRepository(), sessionrepo.NewMemoryRepository())
}

func newHarnessWith(t *testing.T, principals *principalrepo.MemoryRepository, sessionStore sessionrepo.Repository) *harness {
	t.Helper()
	clock := &fakeClock{t: epoch}
	codec, err := security.NewTestTokenCodec(clock.now)
	require.NoError(t, err)

	locks := keylock.New()
	policy := lockout.New(principals, locks, lockout.Config{Threshold: 3, Duration: 600 * time.Second, Timeout: time.Second}, zerolog.Nop()).
		WithClock(clock.now)
	reg := registry.New(sessionStore, locks, time.Second, zerolog.Nop()).WithClock(clock.now)
	denied := denylist.NewMemory()
	notifier := &recordingNotifier{}
	hasher := security.NewHasher(4)

	svc := NewAuthService(principals, hasher, codec, policy, reg, denied, Config{
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		SingleActiveSession: true,
		StoreTimeout:        time.Second,
	}, zerolog.Nop()).WithClock(clock.now).WithNotifier(notifier)

	h := &harness{svc: svc, clock: clock, hasher: hasher, principals: principals, denied: denied, notifier: notifier}
	if mem, ok := sessionStore.(*sessionrepo.MemoryRepository); ok {
		h.sessions = mem
	}
	return h
}

func (h *harness) seed(t *testing.T, handle string, status principaldomain.Status) *principaldomain.Principal {
	t.Helper()
	hash, err := h.hasher.Hash([]byte(testSecret))
	require.NoError(t, err)
	p := &principaldomain.Principal{
		ID:         "p-" + handle,
		Handle:     handle,
		SecretHash: hash,
		Status:     status,
		Roles:      []string{"customer"},
		CreatedAt:  epoch,
		UpdatedAt:  epoch,
	}
	require.NoError(t, h.principals.Create(context.Background(), p))
	return p
}

func (h *harness) login(handle, secret string, rememberMe bool) (*AuthResult, error) {
	return h.svc.Login(context.Background(), LoginRequest{
		Handle:     handle,
		Secret:     secret,
		RememberMe: rememberMe,
		Metadata:   sessiondomain.Metadata{IPAddress: "198.51.100.7", UserAgent: "nexabank-ios/4.2"},
	})
}

func kindOf(t *testing.T, err error) autherr.Kind {
	t.Helper()
	require.Error(t, err)
	return autherr.KindOf(err)
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)

	res, err := h.login("  ADA@nexabank.test ", testSecret, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, res.AccessToken, res.RefreshToken)
	assert.True(t, res.AccessExpiresAt.Equal(epoch.Add(15*time.Minute)))
	assert.True(t, res.RefreshExpiresAt.Equal(epoch.Add(24*time.Hour)))
	assert.Equal(t, p.ID, res.Principal.ID)
	assert.Equal(t, "ada@nexabank.test", res.Principal.Handle)
	assert.Equal(t, []string{"customer"}, res.Principal.Roles)
	require.NotNil(t, res.Principal.LastLoginAt)
	assert.True(t, res.Principal.LastLoginAt.Equal(epoch))

	sess, err := h.sessions.GetByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.Active)
	assert.Equal(t, "198.51.100.7", sess.Metadata.IPAddress)
	assert.Equal(t, security.HashToken(res.AccessToken), sess.AccessTokenHash)

	id, err := h.svc.Authorize(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id.PrincipalID)
	assert.Equal(t, res.SessionID, id.SessionID)
}

func TestLogin_FailuresAreNotEnumerable(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)

	_, unknown := h.login("nobody@nexabank.test", testSecret, false)
	_, wrong := h.login("ada@nexabank.test", "wrong-secret", false)
	_, empty := h.login("", "", false)

	for _, err := range []error{unknown, wrong, empty} {
		assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
		var ae *autherr.Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "invalid credentials", ae.Public())
	}
	assert.Zero(t, h.sessions.Len())
}

func TestLogin_LockoutTimeline(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "u1@nexabank.test", principaldomain.StatusActive)

	// The failure that engages the lock looks like any other wrong secret.
	for i, at := range []time.Duration{0, time.Second, 2 * time.Second} {
		h.clock.set(at)
		_, err := h.login("u1@nexabank.test", "bad-secret", false)
		assert.Equal(t, autherr.KindInvalidCredentials, kindOf(t, err), "failure %d", i+1)
	}
	locked, err := h.principals.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, epoch.Add(602*time.Second).Equal(*locked.LockedUntil))

	h.clock.set(3 * time.Second)
	_, err = h.login("u1@nexabank.test", "bad-secret", false)
	var ae *autherr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, autherr.KindAccountLocked, ae.Kind)
	assert.Equal(t, int64(599), ae.RemainingSeconds)

	h.clock.set(500 * time.Second)
	_, err = h.login("u1@nexabank.test", testSecret, false)
	ae = nil
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, autherr.KindAccountLocked, ae.Kind)
	assert.Equal(t, int64(102), ae.RemainingSeconds)

	h.clock.set(610 * time.Second)
	res, err := h.login("u1@nexabank.test", testSecret, false)
	require.NoError(t, err)
	assert.Equal(t, principaldomain.StatusActive, res.Principal.Status)

	stored, err := h.principals.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Equal(t, principaldomain.StatusActive, stored.Status)
	assert.Nil(t, stored.LockedUntil)
}

func TestLogin_ThresholdThenCorrectSecretStillLocked(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u2@nexabank.test", principaldomain.StatusActive)

	for i := 0; i < 3; i++ {
		_, _ = h.login("u2@nexabank.test", "bad-secret", false)
	}
	_, err := h.login("u2@nexabank.test", testSecret, false)
	assert.ErrorIs(t, err, autherr.ErrAccountLocked)
	assert.Zero(t, h.sessions.Len())
}

func TestLogin_NotActiveRevealedOnlyWithCorrectSecret(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "frozen@nexabank.test", principaldomain.StatusSuspended)

	_, err := h.login("frozen@nexabank.test", "bad-secret", false)
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)

	_, err = h.login("frozen@nexabank.test", testSecret, false)
	assert.ErrorIs(t, err, autherr.ErrAccountNotActive)
	assert.Zero(t, h.sessions.Len())
}

func TestLogin_SingleActiveSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	ctx := context.Background()

	first, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	second, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)

	_, err = h.svc.Authorize(ctx, first.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err), "displaced session must be rejected, got %v", err)
	_, err = h.svc.Authorize(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestLogin_RememberMeKeepsOtherSessions(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	ctx := context.Background()

	first, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	second, err := h.login("ada@nexabank.test", testSecret, true)
	require.NoError(t, err)

	_, err = h.svc.Authorize(ctx, first.AccessToken)
	assert.NoError(t, err)
	_, err = h.svc.Authorize(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestLogin_FailedAttemptKeepsExistingSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)

	live, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	_, err = h.login("ada@nexabank.test", "bad-secret", false)
	require.Error(t, err)

	_, err = h.svc.Authorize(context.Background(), live.AccessToken)
	assert.NoError(t, err)
}

func TestAuthorize_Rejections(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.svc.Authorize(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTokenMalformed)
	assert.ErrorIs(t, err, security.ErrTokenTypeMismatch)

	_, err = h.svc.Authorize(ctx, "not-a-token")
	assert.ErrorIs(t, err, autherr.ErrTokenMalformed)

	h.clock.advance(16 * time.Minute)
	_, err = h.svc.Authorize(ctx, res.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
}

func TestAuthorize_InactiveSessionWithValidToken(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)

	_, err = h.sessions.DeactivateAllForPrincipal(context.Background(), p.ID, epoch)
	require.NoError(t, err)

	_, err = h.svc.Authorize(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrSessionInactive)
}

func TestRefresh_RotatesPair(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	ctx := context.Background()
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)

	h.clock.advance(10 * time.Minute)
	next, err := h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, next.SessionID)
	assert.NotEqual(t, res.AccessToken, next.AccessToken)
	assert.NotEqual(t, res.RefreshToken, next.RefreshToken)
	assert.True(t, next.RefreshExpiresAt.Equal(epoch.Add(10*time.Minute+24*time.Hour)))

	_, err = h.svc.Authorize(ctx, res.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err), "old access token must stop working, got %v", err)
	assert.Equal(t, 1, h.denied.Len())

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	assert.True(t, autherr.IsUnauthorized(err), "old refresh token must stop working, got %v", err)

	_, err = h.svc.Authorize(ctx, next.AccessToken)
	assert.NoError(t, err)

	_, err = h.svc.Refresh(ctx, next.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenMalformed)
}

func TestRefresh_ConcurrentExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Refresh(context.Background(), res.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t, autherr.IsUnauthorized(err), "losing refresh must be unauthorized, got %v", err)
	}
}

func TestRefresh_AuthorizeDuringRotation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Authorize(context.Background(), res.AccessToken)
			errs <- err
		}()
	}
	next, err := h.svc.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.True(t, autherr.IsUnauthorized(err), "authorize racing a rotation must succeed or be unauthorized, got %v", err)
		}
	}
	_, err = h.svc.Authorize(context.Background(), res.AccessToken)
	assert.Error(t, err)
	_, err = h.svc.Authorize(context.Background(), next.AccessToken)
	assert.NoError(t, err)
}

func TestRefresh_PrincipalNoLongerActive(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := h.principals.GetByID(ctx, p.ID)
	require.NoError(t, err)
	stored.Status = principaldomain.StatusSuspended
	require.NoError(t, h.principals.Save(ctx, stored))

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrAccountNotActive)
}

func TestLogout_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	res, err := h.login("ada@nexabank.test", testSecret, false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.svc.Logout(ctx, res.AccessToken))
	require.NoError(t, h.svc.Logout(ctx, res.AccessToken))
	assert.NoError(t, h.svc.Logout(ctx, "garbage"))
	assert.NoError(t, h.svc.Logout(ctx, ""))

	_, err = h.svc.Authorize(ctx, res.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))
	assert.True(t, h.denied.Len() >= 1)

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	assert.True(t, autherr.IsUnauthorized(err))
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	ctx := context.Background()

	a, err := h.login("ada@nexabank.test", testSecret, true)
	require.NoError(t, err)
	b, err := h.login("ada@nexabank.test", testSecret, true)
	require.NoError(t, err)

	n, err := h.svc.LogoutAll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = h.svc.LogoutAll(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.svc.LogoutAll(ctx, "p-unknown")
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, tok := range []string{a.AccessToken, b.AccessToken} {
		_, err := h.svc.Authorize(ctx, tok)
		assert.ErrorIs(t, err, autherr.ErrSessionInactive)
	}
}

func TestListAndRevokeSession(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)
	other := h.seed(t, "grace@nexabank.test", principaldomain.StatusActive)
	ctx := context.Background()

	a, err := h.login("ada@nexabank.test", testSecret, true)
	require.NoError(t, err)
	h.clock.advance(time.Second)
	b, err := h.login("ada@nexabank.test", testSecret, true)
	require.NoError(t, err)

	list, err := h.svc.ListSessions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.SessionID, list[0].ID)
	assert.Equal(t, "nexabank-ios/4.2", list[0].Metadata.UserAgent)

	err = h.svc.RevokeSession(ctx, other.ID, a.SessionID)
	assert.ErrorIs(t, err, autherr.ErrSessionNotFound)

	require.NoError(t, h.svc.RevokeSession(ctx, p.ID, a.SessionID))
	require.NoError(t, h.svc.RevokeSession(ctx, p.ID, a.SessionID))
	_, err = h.svc.Authorize(ctx, a.AccessToken)
	assert.True(t, autherr.IsUnauthorized(err))
	_, err = h.svc.Authorize(ctx, b.AccessToken)
	assert.NoError(t, err)

	list, err = h.svc.ListSessions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.SessionID, list[0].ID)

	assert.Equal(t, autherr.KindInvalidRequest, kindOf(t, h.svc.RevokeSession(ctx, p.ID, "")))
	_, err = h.svc.ListSessions(ctx, "")
	assert.Equal(t, autherr.KindInvalidRequest, kindOf(t, err))
}

type unavailableSessions struct {
	sessionrepo.Repository
}

func (unavailableSessions) GetByAccessHash(context.Context, string) (*sessiondomain.Session, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

type unavailablePrincipals struct {
	PrincipalStore
}

func (unavailablePrincipals) GetByHandle(context.Context, string) (*principaldomain.Principal, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestStoreOutageIsRetryable(t *testing.T) {
	h := newHarnessWith(t, principalrepo.NewMemoryRepository(), unavailableSessions{})
	h.seed(t, "ada@nexabank.test", principaldomain.StatusActive)

	err := h.svc.Logout(context.Background(), "some-access-token")
	require.ErrorIs(t, err, autherr.ErrStoreUnavailable)
	var ae *autherr.Error
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Retryable())

	h.svc.principals = unavailablePrincipals{}
	_, err = h.login("ada@nexabank.test", testSecret, false)
	assert.ErrorIs(t, err, autherr.ErrStoreUnavailable)
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterRequest{
		Handle:  "Grace@NexaBank.test",
		Secret:  "Str0ng!Secret",
		Profile: map[string]string{"first_name": " Grace ", "last_name": "Hopper", "city": ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@nexabank.test", res.Principal.Handle)
	assert.Equal(t, principaldomain.StatusActive, res.Principal.Status)
	assert.Equal(t, DefaultRoles, res.Principal.Roles)

	id, err := h.svc.Authorize(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Principal.ID, id.PrincipalID)

	h.notifier.mu.Lock()
	require.Equal(t, []string{res.Principal.ID}, h.notifier.ids)
	assert.Equal(t, map[string]string{"first_name": "Grace", "last_name": "Hopper"}, h.notifier.profiles[0])
	h.notifier.mu.Unlock()

	_, err = h.login("grace@nexabank.test", "Str0ng!Secret", false)
	assert.NoError(t, err)

	_, err = h.svc.Register(ctx, RegisterRequest{Handle: "grace@nexabank.test", Secret: "An0ther!Secret"})
	assert.ErrorIs(t, err, autherr.ErrHandleTaken)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	testCases := []struct {
		name   string
		handle string
		secret string
	}{
		{"missing handle", "", "Str0ng!Secret"},
		{"not an email", "grace", "Str0ng!Secret"},
		{"short secret", "grace@nexabank.test", "S0!a"},
		{"no symbol", "grace@nexabank.test", "Str0ngSecret"},
		{"no uppercase", "grace@nexabank.test", "str0ng!secret"},
		{"secret over bcrypt limit", "grace@nexabank.test", "Str0ng!" + strings.Repeat("x", 66)},
		{"multibyte secret over bcrypt limit", "grace@nexabank.test", "Str0ng!" + strings.Repeat("é", 33)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Register(context.Background(), RegisterRequest{Handle: tc.handle, Secret: tc.secret})
			assert.ErrorIs(t, err, autherr.ErrInvalidRequest)
		})
	}
}

func TestRegister_SecretAtBcryptLimit(t *testing.T) {
	h := newHarness(t)
	secret := "Str0ng!" + strings.Repeat("x", 65)
	require.Len(t, secret, security.MaxSecretBytes)

	_, err := h.svc.Register(context.Background(), RegisterRequest{Handle: "grace@nexabank.test", Secret: secret})
	require.NoError(t, err)
	_, err = h.login("grace@nexabank.test", secret, false)
	assert.NoError(t, err)
}

type failingNotifier struct{ calls chan string }

func (f failingNotifier) NotifyPrincipalCreated(_ context.Context, principalID string, _ map[string]string) error {
	f.calls <- principalID
	return errors.New("customer service unreachable")
}

func TestRegister_PropagationFailureDoesNotFailRegistration(t *testing.T) {
	h := newHarness(t)
	calls := make(chan string, 1)
	h.svc.WithNotifier(propagation.NewDispatcher(failingNotifier{calls: calls}, time.Second, zerolog.Nop(), nil, nil))

	res, err := h.svc.Register(context.Background(), RegisterRequest{Handle: "linus@nexabank.test", Secret: "Str0ng!Secret"})
	require.NoError(t, err)

	select {
	case id := <-calls:
		assert.Equal(t, res.Principal.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("propagation was not attempted")
	}
	_, err = h.svc.Authorize(context.Background(), res.AccessToken)
	assert.NoError(t, err)
}
