package store

import (
	"context"
	"time"

	"studiobook/internal/domain"
)

// ProfileStore is the profile slice of the remote row store. Health is
// the cheap collection-level probe the session resolver runs before any
// profile lookup.
type ProfileStore interface {
	Health(ctx context.Context) error
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
}

// ScheduleStore is the schedules slice of the remote row store.
//
// BookSchedule applies status=booked and the owning user without any
// precondition on the current status; it returns the updated rows and
// an empty slice when nothing matched. Concurrent bookings of the same
// slot both succeed and the store's last write wins.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error)
	UpdateSchedule(ctx context.Context, id, date, timeSlot string, status domain.ScheduleStatus) (domain.Schedule, error)
	BookSchedule(ctx context.Context, id, userID string) ([]domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// AuthUserStore and RefreshTokenStore back the local-mode auth service.
type AuthUserStore interface {
	CreateAuthUser(ctx context.Context, u domain.AuthUser) (domain.AuthUser, error)
	AuthUserByEmail(ctx context.Context, email string) (domain.AuthUser, error)
	AuthUserByID(ctx context.Context, id string) (domain.AuthUser, error)
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error)
	RefreshTokenByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID, userID, newHash string, newExpiry time.Time) (string, error)
	RevokeRefreshTokens(ctx context.Context, userID string) error
	PurgeExpiredRefreshTokens(ctx context.Context) (int64, error)
}
