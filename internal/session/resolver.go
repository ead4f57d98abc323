package session

import (
	"context"
	"errors"
	"log/slog"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
	"studiobook/internal/store"
)

const defaultProfileName = "User"

// Resolver turns an authenticated user id into an application Profile.
// A missing profile row is synthesized from the auth identity rather
// than treated as a failure; every other failure leaves the caller
// unauthenticated.
type Resolver struct {
	auth     remote.AuthService
	profiles store.ProfileStore
	log      *slog.Logger
}

func NewResolver(auth remote.AuthService, profiles store.ProfileStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		auth:     auth,
		profiles: profiles,
		log:      log.With(slog.String("component", "session.resolver")),
	}
}

// Resolve looks the profile up and falls back to synthesizing one on a
// not-found miss. The store health probe runs first; if the profile
// collection is unreachable there is no point in either step.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := r.profiles.Health(ctx); err != nil {
		r.log.Warn("profile store health check failed", slog.Any("err", err))
		return nil, err
	}

	p, err := r.lookup(ctx, userID)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("profile lookup failed", slog.String("user_id", userID), slog.Any("err", err))
		return nil, err
	}

	r.log.Info("profile missing, synthesizing", slog.String("user_id", userID))
	p, err = r.synthesize(ctx, userID)
	if err != nil {
		r.log.Warn("profile synthesis failed", slog.String("user_id", userID), slog.Any("err", err))
		return nil, err
	}
	return &p, nil
}

func (r *Resolver) lookup(ctx context.Context, userID string) (domain.Profile, error) {
	return r.profiles.GetProfile(ctx, userID)
}

// synthesize builds a default profile from the authenticated identity
// and persists it: email from the auth record, display name from
// sign-up metadata (or "User"), role always user. Role elevation is
// out of band and never happens here.
func (r *Resolver) synthesize(ctx context.Context, userID string) (domain.Profile, error) {
	u, err := r.auth.CurrentUser(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if u == nil || u.ID == "" {
		return domain.Profile{}, errors.New("auth service returned no user")
	}

	name := u.Metadata["name"]
	if name == "" {
		name = defaultProfileName
	}

	return r.profiles.CreateProfile(ctx, domain.Profile{
		ID:    u.ID,
		Email: u.Email,
		Name:  name,
		Role:  domain.RoleUser,
	})
}
