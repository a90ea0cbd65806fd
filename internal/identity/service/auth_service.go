package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/lockout"
	"nexabank-auth/backend/internal/logging"
	principaldomain "nexabank-auth/backend/internal/principal/domain"
	principalrepo "nexabank-auth/backend/internal/principal/repository"
	"nexabank-auth/backend/internal/security"
	"nexabank-auth/backend/internal/session/denylist"
	sessiondomain "nexabank-auth/backend/internal/session/domain"
	"nexabank-auth/backend/internal/session/registry"
	"nexabank-auth/backend/internal/telemetry"
)

const (
	DefaultAccessTTL    = 24 * time.Hour
	DefaultRefreshTTL   = 7 * 24 * time.Hour
	DefaultStoreTimeout = 3 * time.Second
)

// DefaultRoles are assigned to principals created through Register.
var DefaultRoles = []string{"customer"}

// LoginRequest carries the credentials and client metadata of one login attempt.
type LoginRequest struct {
	Handle string
	Secret string
	// RememberMe keeps the principal's other sessions alive even when single-session is on.
	RememberMe bool
	Metadata   sessiondomain.Metadata
}

// RegisterRequest creates a new principal. Profile fields are forwarded to identity propagation.
type RegisterRequest struct {
	Handle   string
	Secret   string
	Profile  map[string]string
	Metadata sessiondomain.Metadata
}

// AuthResult is returned by Login, Register and Refresh.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	Principal        principaldomain.PublicInfo
}

// Identity is the caller established by Authorize.
type Identity struct {
	PrincipalID string
	SessionID   string
	TokenID     string
	ExpiresAt   time.Time
}

// Config holds the orchestrator settings. Zero durations select the defaults.
type Config struct {
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	SingleActiveSession bool
	StoreTimeout        time.Duration
	DefaultRoles        []string
}

// PrincipalStore is the credential store subset the auth service needs.
type PrincipalStore interface {
	GetByID(ctx context.Context, id string) (*principaldomain.Principal, error)
	GetByHandle(ctx context.Context, handle string) (*principaldomain.Principal, error)
	Create(ctx context.Context, p *principaldomain.Principal) error
}

// LockoutPolicy counts failures and locks accounts.
type LockoutPolicy interface {
	Check(p *principaldomain.Principal, now time.Time) lockout.Decision
	RecordFailure(ctx context.Context, principalID string) (lockout.Decision, error)
	RecordSuccess(ctx context.Context, principalID string) (*principaldomain.Principal, error)
}

// SessionRegistry is the session lifecycle API the auth service drives.
type SessionRegistry interface {
	Create(ctx context.Context, p registry.CreateParams) (*sessiondomain.Session, error)
	FindByAccessToken(ctx context.Context, token string) (*sessiondomain.Session, error)
	FindByRefreshToken(ctx context.Context, token string) (*sessiondomain.Session, error)
	Deactivate(ctx context.Context, sessionID string) error
	DeactivateAllForPrincipal(ctx context.Context, principalID string) (int64, error)
	Rotate(ctx context.Context, p registry.RotateParams) (*sessiondomain.Session, error)
	Touch(ctx context.Context, sessionID string) error
	ListActive(ctx context.Context, principalID string) ([]*sessiondomain.Session, error)
	Revoke(ctx context.Context, principalID, sessionID string) (*sessiondomain.Session, bool, error)
}

// PrincipalNotifier announces new principals without blocking the caller.
type PrincipalNotifier interface {
	NotifyPrincipalCreated(principalID string, profile map[string]string) <-chan struct{}
}

// AuthService implements login, authorization, refresh, logout and registration.
type AuthService struct {
	principals PrincipalStore
	hasher     *security.Hasher
	codec      *security.TokenCodec
	lockout    LockoutPolicy
	sessions   SessionRegistry
	denied     denylist.Denylist
	notifier   PrincipalNotifier
	metrics    *telemetry.Metrics
	emitter    telemetry.EventEmitter
	cfg        Config
	now        func() time.Time
	log        zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies. A nil denylist disables the
// revocation fast path.
func NewAuthService(
	principals PrincipalStore,
	hasher *security.Hasher,
	codec *security.TokenCodec,
	policy LockoutPolicy,
	sessions SessionRegistry,
	denied denylist.Denylist,
	cfg Config,
	log zerolog.Logger,
) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if len(cfg.DefaultRoles) == 0 {
		cfg.DefaultRoles = DefaultRoles
	}
	if denied == nil {
		denied = denylist.Noop{}
	}
	return &AuthService{
		principals: principals,
		hasher:     hasher,
		codec:      codec,
		lockout:    policy,
		sessions:   sessions,
		denied:     denied,
		metrics:    telemetry.NopMetrics(),
		emitter:    telemetry.NopEmitter{},
		cfg:        cfg,
		now:        time.Now,
		log:        log.With().Str("component", "auth_service").Logger(),
	}
}

// WithNotifier sets the identity propagation notifier used by Register.
func (s *AuthService) WithNotifier(n PrincipalNotifier) *AuthService {
	s.notifier = n
	return s
}

// WithTelemetry sets metrics and the security event emitter. Nil values keep the no-ops.
func (s *AuthService) WithTelemetry(m *telemetry.Metrics, e telemetry.EventEmitter) *AuthService {
	if m != nil {
		s.metrics = m
	}
	if e != nil {
		s.emitter = e
	}
	return s
}

// WithClock replaces the service clock. Intended for tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Login authenticates a principal by handle and secret, applies lockout, and opens a session.
// Unknown handles and wrong secrets fail identically.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (res *AuthResult, err error) {
	var principalID string
	defer func() {
		s.metrics.Login(ctx, outcome(err))
		if err != nil {
			s.emit(telemetry.Event{
				Type:        telemetry.EventLoginFailed,
				PrincipalID: principalID,
				Reason:      string(autherr.KindOf(err)),
				Attributes:  map[string]string{"ip_address": req.Metadata.IPAddress},
			})
		}
	}()

	handle := principaldomain.NormalizeHandle(req.Handle)
	if handle == "" || req.Secret == "" {
		return nil, autherr.ErrInvalidCredentials
	}
	pr, err := s.principalByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		s.burnHash(req.Secret)
		return nil, autherr.ErrInvalidCredentials
	}
	principalID = pr.ID

	now := s.now().UTC()
	if d := s.lockout.Check(pr, now); !d.Allowed {
		return nil, autherr.Locked(d.Remaining)
	}
	if !s.hasher.Verify([]byte(req.Secret), pr.SecretHash) {
		return nil, s.recordFailure(ctx, pr.ID)
	}
	if pr.EffectiveStatus(now) != principaldomain.StatusActive {
		return nil, autherr.ErrAccountNotActive
	}
	pr, err = s.lockout.RecordSuccess(ctx, pr.ID)
	if err != nil {
		if errors.Is(err, lockout.ErrPrincipalNotFound) {
			return nil, autherr.ErrInvalidCredentials
		}
		return nil, autherr.Store(err)
	}

	res, err = s.openSession(ctx, pr, s.cfg.SingleActiveSession && !req.RememberMe, req.Metadata)
	if err != nil {
		return nil, err
	}
	s.emit(telemetry.Event{
		Type:        telemetry.EventLoginSucceeded,
		PrincipalID: pr.ID,
		SessionID:   res.SessionID,
		Attributes: map[string]string{
			"remember_me": strconv.FormatBool(req.RememberMe),
			"ip_address":  req.Metadata.IPAddress,
		},
	})
	return res, nil
}

// recordFailure counts a wrong secret and returns the error the caller sees.
func (s *AuthService) recordFailure(ctx context.Context, principalID string) error {
	d, err := s.lockout.RecordFailure(ctx, principalID)
	if err != nil {
		if errors.Is(err, lockout.ErrPrincipalNotFound) {
			return autherr.ErrInvalidCredentials
		}
		return autherr.Store(err)
	}
	// A wrong secret always reads as InvalidCredentials, also on the attempt that engages the lock,
	// so callers cannot count their way to the threshold.
	if d.Tripped {
		s.metrics.Lockout(ctx)
		s.emit(telemetry.Event{Type: telemetry.EventAccountLocked, PrincipalID: principalID, Reason: string(autherr.KindAccountLocked)})
	}
	return autherr.ErrInvalidCredentials
}

// Register creates an active principal, opens its first session and announces it downstream.
// Propagation runs after the response is built and never fails the call.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	handle := principaldomain.NormalizeHandle(req.Handle)
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	if err := validateSecret(req.Secret); err != nil {
		return nil, err
	}
	existing, err := s.principalByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, autherr.ErrHandleTaken
	}
	hashed, err := s.hasher.Hash([]byte(req.Secret))
	if err != nil {
		return nil, autherr.New(autherr.KindInternal, err)
	}

	now := s.now().UTC()
	pr := &principaldomain.Principal{
		ID:          uuid.New().String(),
		Handle:      handle,
		SecretHash:  hashed,
		Status:      principaldomain.StatusActive,
		LastLoginAt: &now,
		Roles:       append([]string(nil), s.cfg.DefaultRoles...),
		Profile:     cleanProfile(req.Profile),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := pr.Validate(); err != nil {
		return nil, autherr.Invalid(err.Error())
	}
	if err := s.createPrincipal(ctx, pr); err != nil {
		return nil, err
	}

	res, err := s.openSession(ctx, pr, false, req.Metadata)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.NotifyPrincipalCreated(pr.ID, pr.Profile)
	}
	s.emit(telemetry.Event{Type: telemetry.EventPrincipalRegistered, PrincipalID: pr.ID, SessionID: res.SessionID})
	return res, nil
}

// Authorize validates an access token against its signature, the revocation denylist and the
// session it belongs to. The stricter of the token's exp and the session's access expiry wins.
func (s *AuthService) Authorize(ctx context.Context, accessToken string) (id *Identity, err error) {
	defer func() { s.metrics.Authorization(ctx, outcome(err)) }()

	claims, err := s.codec.Verify(accessToken, security.TokenAccess)
	if err != nil {
		return nil, tokenError(err)
	}
	if s.isDenied(ctx, security.HashToken(accessToken)) {
		return nil, autherr.ErrSessionInactive
	}
	sess, err := s.sessions.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !sess.AccessValid(s.now().UTC()) {
		return nil, autherr.ErrSessionInactive
	}
	if sess.PrincipalID != claims.Subject {
		return nil, autherr.ErrTokenMalformed
	}
	if err := s.sessions.Touch(ctx, sess.ID); err != nil {
		logging.Ctx(ctx, &s.log).Debug().Err(err).Str("session_id", sess.ID).Msg("touch session failed")
	}
	return &Identity{
		PrincipalID: sess.PrincipalID,
		SessionID:   sess.ID,
		TokenID:     claims.ID,
		ExpiresAt:   earliest(claims.ExpiresAtTime(), sess.AccessExpiresAt),
	}, nil
}

// Refresh exchanges a refresh token for a new token pair. The old pair stops working in the same
// write; of two concurrent refreshes with the same token exactly one succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (res *AuthResult, err error) {
	var principalID, sessionID string
	defer func() {
		s.metrics.Refresh(ctx, outcome(err))
		if err == nil {
			s.emit(telemetry.Event{Type: telemetry.EventSessionRefreshed, PrincipalID: principalID, SessionID: sessionID})
		}
	}()

	claims, err := s.codec.Verify(refreshToken, security.TokenRefresh)
	if err != nil {
		return nil, tokenError(err)
	}
	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !sess.RefreshValid(now) {
		return nil, autherr.ErrSessionInactive
	}
	if sess.PrincipalID != claims.Subject {
		return nil, autherr.ErrTokenMalformed
	}

	pr, err := s.principalByID(ctx, sess.PrincipalID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, autherr.ErrAccountNotActive
	}
	switch pr.EffectiveStatus(now) {
	case principaldomain.StatusActive:
	case principaldomain.StatusLocked:
		return nil, autherr.Locked(s.lockout.Check(pr, now).Remaining)
	default:
		return nil, autherr.ErrAccountNotActive
	}

	pair, err := s.issuePair(pr.ID)
	if err != nil {
		return nil, err
	}
	rotated, err := s.sessions.Rotate(ctx, registry.RotateParams{
		SessionID:        sess.ID,
		OldRefreshToken:  refreshToken,
		AccessToken:      pair.access,
		RefreshToken:     pair.refresh,
		AccessExpiresAt:  pair.accessExp,
		RefreshExpiresAt: pair.refreshExp,
	})
	if err != nil {
		return nil, err
	}
	s.deny(ctx, sess.AccessTokenHash, sess.AccessExpiresAt.Sub(now))

	principalID, sessionID = pr.ID, rotated.ID
	return pair.result(rotated.ID, pr.Public(now)), nil
}

// Logout deactivates the session owning accessToken and denylists the token. Unknown, expired
// or already revoked tokens succeed; only a store outage is reported.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return nil
	}
	sess, err := s.sessions.FindByAccessToken(ctx, accessToken)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindStoreUnavailable {
			return err
		}
		return nil
	}
	if sess.Active {
		if err := s.sessions.Deactivate(ctx, sess.ID); err != nil {
			return err
		}
		s.metrics.SessionsRevoked(ctx, 1)
		s.emit(telemetry.Event{Type: telemetry.EventLogout, PrincipalID: sess.PrincipalID, SessionID: sess.ID})
	}
	s.deny(ctx, sess.AccessTokenHash, sess.AccessExpiresAt.Sub(s.now()))
	return nil
}

// LogoutAll deactivates every active session of the principal and returns how many were active.
// Repeating the call returns zero.
func (s *AuthService) LogoutAll(ctx context.Context, principalID string) (int64, error) {
	if principalID == "" {
		return 0, autherr.Invalid("principal id is required")
	}
	n, err := s.sessions.DeactivateAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsRevoked(ctx, n)
	if n > 0 {
		s.emit(telemetry.Event{Type: telemetry.EventLogoutAll, PrincipalID: principalID, Attributes: map[string]string{"sessions": strconv.FormatInt(n, 10)}})
	}
	return n, nil
}

// SessionInfo is the client-safe view of one session.
type SessionInfo struct {
	ID               string
	CreatedAt        time.Time
	LastAccessedAt   *time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Metadata         sessiondomain.Metadata
}

// ListSessions returns the principal's live sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	if principalID == "" {
		return nil, autherr.Invalid("principal id is required")
	}
	list, err := s.sessions.ListActive(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionInfo{
			ID:               sess.ID,
			CreatedAt:        sess.CreatedAt,
			LastAccessedAt:   sess.LastAccessedAt,
			AccessExpiresAt:  sess.AccessExpiresAt,
			RefreshExpiresAt: sess.RefreshExpiresAt,
			Metadata:         sess.Metadata,
		})
	}
	return out, nil
}

// RevokeSession signs out one of the principal's sessions and denylists its access token.
// Revoking an already inactive session succeeds.
func (s *AuthService) RevokeSession(ctx context.Context, principalID, sessionID string) error {
	if principalID == "" || sessionID == "" {
		return autherr.Invalid("principal id and session id are required")
	}
	sess, wasActive, err := s.sessions.Revoke(ctx, principalID, sessionID)
	if err != nil {
		return err
	}
	if wasActive {
		s.metrics.SessionsRevoked(ctx, 1)
		s.emit(telemetry.Event{Type: telemetry.EventSessionRevoked, PrincipalID: principalID, SessionID: sessionID})
	}
	s.deny(ctx, sess.AccessTokenHash, sess.AccessExpiresAt.Sub(s.now()))
	return nil
}

type tokenPair struct {
	access, refresh       string
	accessExp, refreshExp time.Time
}

func (p tokenPair) result(sessionID string, info principaldomain.PublicInfo) *AuthResult {
	return &AuthResult{
		AccessToken:      p.access,
		RefreshToken:     p.refresh,
		AccessExpiresAt:  p.accessExp,
		RefreshExpiresAt: p.refreshExp,
		SessionID:        sessionID,
		Principal:        info,
	}
}

func (s *AuthService) issuePair(principalID string) (tokenPair, error) {
	access, ac, err := s.codec.Issue(principalID, security.TokenAccess, s.cfg.AccessTTL)
	if err != nil {
		return tokenPair{}, autherr.New(autherr.KindInternal, err)
	}
	refresh, rc, err := s.codec.Issue(principalID, security.TokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return tokenPair{}, autherr.New(autherr.KindInternal, err)
	}
	return tokenPair{access: access, refresh: refresh, accessExp: ac.ExpiresAtTime(), refreshExp: rc.ExpiresAtTime()}, nil
}

func (s *AuthService) openSession(ctx context.Context, pr *principaldomain.Principal, exclusive bool, md sessiondomain.Metadata) (*AuthResult, error) {
	pair, err := s.issuePair(pr.ID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, registry.CreateParams{
		PrincipalID:      pr.ID,
		AccessToken:      pair.access,
		RefreshToken:     pair.refresh,
		AccessExpiresAt:  pair.accessExp,
		RefreshExpiresAt: pair.refreshExp,
		Exclusive:        exclusive,
		Metadata:         md,
	})
	if err != nil {
		return nil, err
	}
	return pair.result(sess.ID, pr.Public(s.now().UTC())), nil
}

func (s *AuthService) principalByHandle(ctx context.Context, handle string) (*principaldomain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	pr, err := s.principals.GetByHandle(ctx, handle)
	if err != nil {
		return nil, autherr.Store(err)
	}
	return pr, nil
}

func (s *AuthService) principalByID(ctx context.Context, id string) (*principaldomain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	pr, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, autherr.Store(err)
	}
	return pr, nil
}

func (s *AuthService) createPrincipal(ctx context.Context, pr *principaldomain.Principal) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	err := s.principals.Create(ctx, pr)
	if errors.Is(err, principalrepo.ErrHandleTaken) {
		return autherr.ErrHandleTaken
	}
	return autherr.Store(err)
}

// isDenied consults the revocation denylist. Lookup failures fall through to the registry check.
func (s *AuthService) isDenied(ctx context.Context, tokenHash string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	denied, err := s.denied.Contains(ctx, tokenHash)
	if err != nil {
		logging.Ctx(ctx, &s.log).Warn().Err(err).Msg("denylist lookup failed")
		return false
	}
	return denied
}

func (s *AuthService) deny(ctx context.Context, tokenHash string, ttl time.Duration) {
	if tokenHash == "" || ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.denied.Add(ctx, tokenHash, ttl); err != nil {
		logging.Ctx(ctx, &s.log).Warn().Err(err).Msg("denylist add failed")
	}
}

// burnHash spends a hash comparison on unknown handles so response time does not reveal them.
func (s *AuthService) burnHash(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash([]byte("nexabank-unknown-principal"))
	})
	s.hasher.Verify([]byte(secret), s.dummyHash)
}

func (s *AuthService) emit(ev telemetry.Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	telemetry.EmitAsync(s.emitter, s.log, ev)
}

func tokenError(err error) error {
	if errors.Is(err, security.ErrTokenExpired) {
		return autherr.New(autherr.KindTokenExpired, err)
	}
	return autherr.New(autherr.KindTokenMalformed, err)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(autherr.KindOf(err))
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() || (!b.IsZero() && b.Before(a)) {
		return b
	}
	return a
}
