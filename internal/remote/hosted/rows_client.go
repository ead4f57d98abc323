package hosted

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
	"studiobook/internal/store"
)

// pgrstNoRows is the row-API error code for a single-object request
// that matched nothing.
const pgrstNoRows = "PGRST116"

const pgrstObject = "application/vnd.pgrst.object+json"

// Rows is the PostgREST-style row client. It implements the profile
// and schedule store interfaces over the hosted /rest/v1 endpoints,
// running under whatever session token its Client carries.
type Rows struct {
	client *Client
}

func NewRows(client *Client) *Rows {
	return &Rows{client: client}
}

type profileRow struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

func (r profileRow) toDomain() domain.Profile {
	return domain.Profile{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Role:      r.Role,
		CreatedAt: r.CreatedAt,
	}
}

type scheduleRow struct {
	ID        string                `json:"id,omitempty"`
	UserID    *string               `json:"user_id"`
	Date      string                `json:"date"`
	TimeSlot  string                `json:"time_slot"`
	Status    domain.ScheduleStatus `json:"status"`
	CreatedAt time.Time             `json:"created_at,omitempty"`
	UpdatedAt *time.Time            `json:"updated_at,omitempty"`
}

func (r scheduleRow) toDomain() domain.Schedule {
	return domain.Schedule{
		ID:        r.ID,
		UserID:    r.UserID,
		Date:      r.Date,
		TimeSlot:  r.TimeSlot,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func scheduleRows(rows []scheduleRow) []domain.Schedule {
	out := make([]domain.Schedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// Health probes the profiles collection with a zero-cost head count.
func (r *Rows) Health(ctx context.Context) error {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodGet,
		path:   "/rest/v1/profiles",
		query:  "select=id&limit=1",
	})
	if err != nil {
		return err
	}
	if !ok(status) {
		return decodeError(status, data)
	}
	return nil
}

func (r *Rows) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodGet,
		path:   "/rest/v1/profiles",
		query:  "select=*&id=eq." + url.QueryEscape(id),
		accept: pgrstObject,
	})
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok(status) {
		return domain.Profile{}, mapRowErr(status, data)
	}

	var row profileRow
	if err := unmarshal(data, &row); err != nil {
		return domain.Profile{}, err
	}
	return row.toDomain(), nil
}

func (r *Rows) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/rest/v1/profiles",
		body: profileRow{
			ID:    p.ID,
			Email: p.Email,
			Name:  p.Name,
			Role:  p.Role,
		},
		prefer: "return=representation",
		accept: pgrstObject,
	})
	if err != nil {
		return domain.Profile{}, err
	}
	if status == http.StatusConflict {
		return domain.Profile{}, store.ErrConflict
	}
	if !ok(status) {
		return domain.Profile{}, decodeError(status, data)
	}

	var row profileRow
	if err := unmarshal(data, &row); err != nil {
		return domain.Profile{}, err
	}
	return row.toDomain(), nil
}

// ListSchedules returns every slot ordered by date then time slot. The
// dates are ISO text so the remote ordering matches calendar order.
func (r *Rows) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodGet,
		path:   "/rest/v1/schedules",
		query:  "select=*&order=date.asc,time_slot.asc",
	})
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, decodeError(status, data)
	}

	var rows []scheduleRow
	if err := unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return scheduleRows(rows), nil
}

func (r *Rows) CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/rest/v1/schedules",
		body: scheduleRow{
			UserID:   s.UserID,
			Date:     s.Date,
			TimeSlot: s.TimeSlot,
			Status:   s.Status,
		},
		prefer: "return=representation",
		accept: pgrstObject,
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	if status == http.StatusConflict {
		return domain.Schedule{}, store.ErrConflict
	}
	if !ok(status) {
		return domain.Schedule{}, decodeError(status, data)
	}

	var row scheduleRow
	if err := unmarshal(data, &row); err != nil {
		return domain.Schedule{}, err
	}
	return row.toDomain(), nil
}

func (r *Rows) UpdateSchedule(ctx context.Context, id, date, timeSlot string, status domain.ScheduleStatus) (domain.Schedule, error) {
	rows, err := r.patchSchedules(ctx, id, map[string]any{
		"date":      date,
		"time_slot": timeSlot,
		"status":    status,
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	if len(rows) == 0 {
		return domain.Schedule{}, store.ErrNotFound
	}
	return rows[0], nil
}

// BookSchedule sets the owner and status unconditionally. An empty
// result is not an error here; the service layer decides what a
// no-row outcome means.
func (r *Rows) BookSchedule(ctx context.Context, id, userID string) ([]domain.Schedule, error) {
	return r.patchSchedules(ctx, id, map[string]any{
		"user_id": userID,
		"status":  domain.StatusBooked,
	})
}

func (r *Rows) DeleteSchedule(ctx context.Context, id string) error {
	status, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodDelete,
		path:   "/rest/v1/schedules",
		query:  "id=eq." + url.QueryEscape(id),
		prefer: "return=representation",
	})
	if err != nil {
		return err
	}
	if !ok(status) {
		return decodeError(status, data)
	}

	var rows []scheduleRow
	if err := unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Rows) patchSchedules(ctx context.Context, id string, fields map[string]any) ([]domain.Schedule, error) {
	httpStatus, data, err := r.client.do(ctx, requestSpec{
		method: http.MethodPatch,
		path:   "/rest/v1/schedules",
		query:  "id=eq." + url.QueryEscape(id),
		body:   fields,
		prefer: "return=representation",
	})
	if err != nil {
		return nil, err
	}
	if !ok(httpStatus) {
		return nil, decodeError(httpStatus, data)
	}

	var rows []scheduleRow
	if err := unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return scheduleRows(rows), nil
}

// mapRowErr translates single-object row answers into store errors.
func mapRowErr(status int, data []byte) error {
	err := decodeError(status, data)
	var rerr *remote.Error
	if errors.As(err, &rerr) && rerr.Code == pgrstNoRows {
		return store.ErrNotFound
	}
	if status == http.StatusNotFound {
		return store.ErrNotFound
	}
	return err
}
