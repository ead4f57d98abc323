package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ScheduleStatus string

const (
	StatusAvailable ScheduleStatus = "available"
	StatusBooked    ScheduleStatus = "booked"
	StatusCancelled ScheduleStatus = "cancelled"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusCancelled:
		return true
	}
	return false
}

// TimeSlots is the fixed inventory of bookable hour-long ranges.
var TimeSlots = []string{
	"09:00-10:00", "10:00-11:00", "11:00-12:00", "12:00-13:00",
	"13:00-14:00", "14:00-15:00", "15:00-16:00", "16:00-17:00",
	"17:00-18:00", "18:00-19:00", "19:00-20:00", "20:00-21:00",
}

func ValidTimeSlot(slot string) bool {
	for _, s := range TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// ValidDate reports whether date is a calendar date in YYYY-MM-DD form.
// Dates are stored and ordered as text; the ISO form sorts correctly.
func ValidDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// Schedule is a bookable slot. UserID is nil for admin-created slots
// until a user books them. Status booked is meant to imply a non-nil
// UserID but nothing enforces that atomically; booking is a plain
// last-write-wins update.
type Schedule struct {
	bun.BaseModel `bun:"table:schedules"`

	ID        string         `bun:"id,pk"`
	UserID    *string        `bun:"user_id"`
	Date      string         `bun:"date,notnull"`
	TimeSlot  string         `bun:"time_slot,notnull"`
	Status    ScheduleStatus `bun:"status,notnull"`
	CreatedAt time.Time      `bun:"created_at,notnull"`
	UpdatedAt *time.Time     `bun:"updated_at"`
}

func (s *Schedule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id.String()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = &now
	}
	return nil
}
