// Package local implements the auth service contract against the
// module's own Postgres tables: bcrypt password hashes, HS256 access
// tokens and rotated refresh tokens. It stands in for the hosted
// identity service in self-hosted deployments and mirrors its
// observable behavior, including issuing no session for accounts that
// still await email confirmation.
package local

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/domain"
	"studiobook/internal/remote"
	"studiobook/internal/store"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	minPasswordLen    = 8
)

type Config struct {
	Secret              string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RequireConfirmation bool
}

type Auth struct {
	*remote.Broadcaster

	users  store.AuthUserStore
	tokens store.RefreshTokenStore
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex
	current *remote.Session
	refresh string
}

func New(users store.AuthUserStore, tokens store.RefreshTokenStore, cfg Config, log *slog.Logger) *Auth {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Auth{
		Broadcaster: remote.NewBroadcaster(),
		users:       users,
		tokens:      tokens,
		cfg:         cfg,
		log:         log.With(slog.String("component", "auth.local")),
	}
}

func (a *Auth) CurrentSession(ctx context.Context) (*remote.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, nil
	}
	s := *a.current
	return &s, nil
}

func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*remote.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, &remote.Error{Message: "email and password are required", Code: "validation_failed"}
	}

	u, err := a.users.AuthUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, invalidCredentials()
	}

	// valid credentials, unconfirmed account: protocol success, no
	// session issued
	if !u.Confirmed() {
		return nil, nil
	}

	sess, err := a.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	a.setCurrent(sess)
	a.Publish(remote.Event{Type: remote.EventSignedIn, Session: sess})
	return sess, nil
}

func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return remote.SignUpResult{}, &remote.Error{Message: "email and password are required", Code: "validation_failed"}
	}
	if len(password) < minPasswordLen {
		return remote.SignUpResult{}, &remote.Error{Message: "password should be at least 8 characters", Code: "weak_password"}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return remote.SignUpResult{}, err
	}

	u := domain.AuthUser{
		Email:        email,
		PasswordHash: hash,
		Name:         metadata["name"],
	}
	if !a.cfg.RequireConfirmation {
		now := time.Now().UTC()
		u.ConfirmedAt = &now
	}

	u, err = a.users.CreateAuthUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return remote.SignUpResult{}, &remote.Error{Message: "user already registered", Code: "user_already_exists"}
		}
		return remote.SignUpResult{}, err
	}

	res := remote.SignUpResult{User: authUserOf(u)}
	if !u.Confirmed() {
		return res, nil
	}

	sess, err := a.issueSession(ctx, u)
	if err != nil {
		return remote.SignUpResult{}, err
	}
	res.Session = sess
	a.setCurrent(sess)
	a.Publish(remote.Event{Type: remote.EventSignedIn, Session: sess})
	return res, nil
}

// SignOut revokes the user's refresh tokens. The in-memory session is
// dropped and the signed-out event published even when revocation
// fails; a dead session must never linger locally.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.current
	a.current = nil
	a.refresh = ""
	a.mu.Unlock()

	a.Publish(remote.Event{Type: remote.EventSignedOut})

	if current == nil {
		return nil
	}
	if err := a.tokens.RevokeRefreshTokens(ctx, current.UserID); err != nil {
		a.log.Warn("refresh token revocation failed", slog.String("user_id", current.UserID), slog.Any("err", err))
		return err
	}
	return nil
}

func (a *Auth) CurrentUser(ctx context.Context) (*remote.AuthUser, error) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current == nil {
		return nil, &remote.Error{Message: "not signed in", Code: "no_session"}
	}

	u, err := a.users.AuthUserByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	return authUserOf(u), nil
}

// Refresh rotates the refresh token and mints a new access token for
// the current session.
func (a *Auth) Refresh(ctx context.Context) (*remote.Session, error) {
	a.mu.Lock()
	raw := a.refresh
	a.mu.Unlock()
	if raw == "" {
		return nil, &remote.Error{Message: "no refresh token", Code: "no_session"}
	}

	t, err := a.tokens.RefreshTokenByHash(ctx, auth.HashRefreshToken(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &remote.Error{Message: "invalid refresh token", Code: "refresh_token_not_found"}
		}
		return nil, err
	}
	if t.Revoked || time.Now().After(t.ExpiresAt) {
		return nil, &remote.Error{Message: "refresh token expired or revoked", Code: "refresh_token_expired"}
	}

	u, err := a.users.AuthUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}

	newRaw, newHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if _, err := a.tokens.RotateRefreshToken(ctx, t.ID, t.UserID, newHash, time.Now().Add(a.cfg.RefreshTTL)); err != nil {
		return nil, err
	}

	access, err := auth.MakeToken(u.ID, u.Email, a.cfg.Secret, a.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	sess := a.sessionFor(u, access, newRaw)
	a.setCurrent(sess)
	a.Publish(remote.Event{Type: remote.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// VerifyToken validates a bearer access token and returns the user id
// it was minted for.
func (a *Auth) VerifyToken(ctx context.Context, raw string) (string, error) {
	c, err := auth.ParseToken(raw, a.cfg.Secret)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}

func (a *Auth) issueSession(ctx context.Context, u domain.AuthUser) (*remote.Session, error) {
	access, err := auth.MakeToken(u.ID, u.Email, a.cfg.Secret, a.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if _, err := a.tokens.CreateRefreshToken(ctx, u.ID, refreshHash, time.Now().Add(a.cfg.RefreshTTL)); err != nil {
		return nil, err
	}

	return a.sessionFor(u, access, rawRefresh), nil
}

func (a *Auth) sessionFor(u domain.AuthUser, access, refresh string) *remote.Session {
	return &remote.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(a.cfg.AccessTTL),
		UserID:       u.ID,
		Email:        u.Email,
	}
}

func (a *Auth) setCurrent(sess *remote.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = sess
	if sess == nil {
		a.refresh = ""
	} else {
		a.refresh = sess.RefreshToken
	}
}

func authUserOf(u domain.AuthUser) *remote.AuthUser {
	md := map[string]string{}
	if u.Name != "" {
		md["name"] = u.Name
	}
	return &remote.AuthUser{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  md,
		CreatedAt: u.CreatedAt,
	}
}

func invalidCredentials() *remote.Error {
	return &remote.Error{Message: "invalid login credentials", Code: "invalid_credentials"}
}
