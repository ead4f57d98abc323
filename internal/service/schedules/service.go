// Package schedules is the accessor for the schedules collection:
// list/create/update/delete plus the booking transition. It returns
// refreshed records to callers rather than observing the store.
package schedules

import (
	"context"
	"log/slog"
	"strings"

	"studiobook/internal/domain"
	"studiobook/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Service struct {
	repo store.ScheduleStore
	log  *slog.Logger
}

func NewService(repo store.ScheduleStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo: repo,
		log:  log.With(slog.String("component", "schedules")),
	}
}

// List returns all slots ordered by date ascending. Errors are returned
// as errors; the fail-soft "render an empty list anyway" policy belongs
// to the caller, which should log the error and show nothing.
func (s *Service) List(ctx context.Context) ([]domain.Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

type SlotInput struct {
	Date     string
	TimeSlot string
	Status   domain.ScheduleStatus
}

func (in SlotInput) validate() (SlotInput, error) {
	in.Date = strings.TrimSpace(in.Date)
	in.TimeSlot = strings.TrimSpace(in.TimeSlot)

	if in.Date == "" || in.TimeSlot == "" {
		return in, validationError("date and time_slot are required")
	}
	if !domain.ValidDate(in.Date) {
		return in, validationError("date must be YYYY-MM-DD")
	}
	if !domain.ValidTimeSlot(in.TimeSlot) {
		return in, validationError("unknown time_slot")
	}
	if in.Status == "" {
		in.Status = domain.StatusAvailable
	}
	if !in.Status.Valid() {
		return in, validationError("unknown status")
	}
	return in, nil
}

// Create inserts a new slot with no owning user; only administrators
// reach this path.
func (s *Service) Create(ctx context.Context, in SlotInput) (domain.Schedule, error) {
	in, err := in.validate()
	if err != nil {
		return domain.Schedule{}, err
	}

	return s.repo.CreateSchedule(ctx, domain.Schedule{
		UserID:   nil,
		Date:     in.Date,
		TimeSlot: in.TimeSlot,
		Status:   in.Status,
	})
}

// Update replaces date, time slot and status of an existing slot. All
// three fields are always sent; there is no partial update.
func (s *Service) Update(ctx context.Context, id string, in SlotInput) (domain.Schedule, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Schedule{}, validationError("id is required")
	}
	in, err := in.validate()
	if err != nil {
		return domain.Schedule{}, err
	}

	return s.repo.UpdateSchedule(ctx, id, in.Date, in.TimeSlot, in.Status)
}

// Book marks the slot booked and owned by userID regardless of its
// current status. Nothing guards two concurrent bookings of the same
// slot; the store's last write wins. A booking that matched no rows
// comes back as store.ErrNoChange, which is an outcome, not a failure.
func (s *Service) Book(ctx context.Context, id, userID string) (domain.Schedule, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Schedule{}, validationError("id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Schedule{}, validationError("user_id is required")
	}

	rows, err := s.repo.BookSchedule(ctx, id, userID)
	if err != nil {
		return domain.Schedule{}, err
	}
	if len(rows) == 0 {
		return domain.Schedule{}, store.ErrNoChange
	}
	return rows[0], nil
}

// Delete removes the slot permanently. No soft delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError("id is required")
	}
	return s.repo.DeleteSchedule(ctx, id)
}
