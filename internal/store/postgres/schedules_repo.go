package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"studiobook/internal/domain"
	"studiobook/internal/store"
)

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (r *ScheduleRepo) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("date ASC, time_slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	m := s
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Schedule{}, err
	}
	return m, nil
}

func (r *ScheduleRepo) UpdateSchedule(ctx context.Context, id, date, timeSlot string, status domain.ScheduleStatus) (domain.Schedule, error) {
	var rows []domain.Schedule
	_, err := r.db.NewUpdate().
		Model((*domain.Schedule)(nil)).
		Set("date = ?", date).
		Set("time_slot = ?", timeSlot).
		Set("status = ?", status).
		Set("updated_at = ?", nowUTC()).
		Where("id = ?", id).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return domain.Schedule{}, err
	}
	if len(rows) == 0 {
		return domain.Schedule{}, store.ErrNotFound
	}
	return rows[0], nil
}

// BookSchedule has no precondition on the current status: the update
// matches on id alone, so a concurrent booking is simply overwritten.
// Zero matched rows is reported as an empty slice, not an error.
func (r *ScheduleRepo) BookSchedule(ctx context.Context, id, userID string) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	_, err := r.db.NewUpdate().
		Model((*domain.Schedule)(nil)).
		Set("status = ?", domain.StatusBooked).
		Set("user_id = ?", userID).
		Set("updated_at = ?", nowUTC()).
		Where("id = ?", id).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) DeleteSchedule(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*domain.Schedule)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
