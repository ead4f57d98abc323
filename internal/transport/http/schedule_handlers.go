package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studiobook/internal/domain"
	"studiobook/internal/service/schedules"
	"studiobook/internal/store"
)

type slotBody struct {
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
	Status   string `json:"status,omitempty"`
}

func (b slotBody) input() schedules.SlotInput {
	return schedules.SlotInput{
		Date:     b.Date,
		TimeSlot: b.TimeSlot,
		Status:   domain.ScheduleStatus(b.Status),
	}
}

// handleListSchedules is fail-soft: a store failure is logged and the
// caller gets an empty list, never an error page. Write paths stay
// fail-hard.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	rows, err := s.schedules.List(r.Context())
	if err != nil {
		s.log.Error("schedule list failed", logAttr(err))
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []scheduleBody{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedulesOf(rows)})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "CreateSchedule"))

	var body slotBody
	if !decodeBody(w, r, &body) {
		return
	}

	created, err := s.schedules.Create(r.Context(), body.input())
	if err != nil {
		s.writeScheduleError(w, log, err)
		return
	}

	log.Info("schedule created",
		slog.String("schedule_id", created.ID),
		slog.String("date", created.Date),
		slog.String("time_slot", created.TimeSlot),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"schedule": scheduleOf(created)})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "UpdateSchedule"))

	var body slotBody
	if !decodeBody(w, r, &body) {
		return
	}

	updated, err := s.schedules.Update(r.Context(), chi.URLParam(r, "id"), body.input())
	if err != nil {
		s.writeScheduleError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": scheduleOf(updated)})
}

// handleBookSchedule books the slot for the authenticated caller. A
// booking that matched no rows reports changed=false with status 200;
// the record may have been deleted out from under the caller and that
// is an outcome, not a server failure.
func (s *Server) handleBookSchedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "BookSchedule"))

	p := ProfileFrom(r.Context())
	booked, err := s.schedules.Book(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNoChange) {
			writeJSON(w, http.StatusOK, map[string]any{"changed": false})
			return
		}
		s.writeScheduleError(w, log, err)
		return
	}

	log.Info("schedule booked",
		slog.String("schedule_id", booked.ID),
		slog.String("user_id", p.ID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"changed": true, "schedule": scheduleOf(booked)})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "DeleteSchedule"))

	if err := s.schedules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeScheduleError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) writeScheduleError(w http.ResponseWriter, log *slog.Logger, err error) {
	var vErr *schedules.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "schedule already exists")
	default:
		log.Error("schedule operation failed", logAttr(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
