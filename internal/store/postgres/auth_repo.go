package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"studiobook/internal/domain"
	"studiobook/internal/store"
)

type AuthRepo struct {
	db *bun.DB
}

func NewAuthRepo(db *bun.DB) *AuthRepo {
	return &AuthRepo{db: db}
}

func (r *AuthRepo) CreateAuthUser(ctx context.Context, u domain.AuthUser) (domain.AuthUser, error) {
	m := u
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.AuthUser{}, store.ErrConflict
		}
		return domain.AuthUser{}, err
	}
	return m, nil
}

func (r *AuthRepo) AuthUserByEmail(ctx context.Context, email string) (domain.AuthUser, error) {
	var u domain.AuthUser
	err := r.db.NewSelect().Model(&u).Where("email = ?", email).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuthUser{}, store.ErrNotFound
		}
		return domain.AuthUser{}, err
	}
	return u, nil
}

func (r *AuthRepo) AuthUserByID(ctx context.Context, id string) (domain.AuthUser, error) {
	var u domain.AuthUser
	err := r.db.NewSelect().Model(&u).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuthUser{}, store.ErrNotFound
		}
		return domain.AuthUser{}, err
	}
	return u, nil
}

func (r *AuthRepo) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error) {
	m := domain.RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return "", err
	}
	return m.ID, nil
}

func (r *AuthRepo) RefreshTokenByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.NewSelect().Model(&t).Where("token_hash = ?", tokenHash).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefreshToken{}, store.ErrNotFound
		}
		return domain.RefreshToken{}, err
	}
	return t, nil
}

// RotateRefreshToken revokes the old token, inserts its replacement and
// links the two, all in one transaction.
func (r *AuthRepo) RotateRefreshToken(ctx context.Context, oldID, userID, newHash string, newExpiry time.Time) (string, error) {
	m := domain.RefreshToken{
		UserID:    userID,
		TokenHash: newHash,
		ExpiresAt: newExpiry,
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*domain.RefreshToken)(nil)).
			Set("revoked = ?", true).
			Set("replaced_by = ?", m.ID).
			Where("id = ?", oldID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (r *AuthRepo) RevokeRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.NewUpdate().
		Model((*domain.RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Exec(ctx)
	return err
}

func (r *AuthRepo) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*domain.RefreshToken)(nil)).
		Where("expires_at < ?", nowUTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
