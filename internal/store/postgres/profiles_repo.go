package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"studiobook/internal/domain"
	"studiobook/internal/store"
)

type ProfileRepo struct {
	db *bun.DB
}

func NewProfileRepo(db *bun.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Health probes the profiles relation itself, not just the connection;
// a missing table or revoked grant must fail here.
func (r *ProfileRepo) Health(ctx context.Context) error {
	_, err := r.db.NewSelect().Model((*domain.Profile)(nil)).Count(ctx)
	return err
}

func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.db.NewSelect().Model(&p).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, store.ErrNotFound
		}
		return domain.Profile{}, err
	}
	return p, nil
}

func (r *ProfileRepo) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	m := p
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Profile{}, store.ErrConflict
		}
		return domain.Profile{}, err
	}
	return m, nil
}
