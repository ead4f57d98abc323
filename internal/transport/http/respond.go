// Package http is the JSON API surface: session endpoints under
// /api/auth and the schedules collection under /api/schedules. It maps
// service and store errors onto HTTP status codes and keeps the
// schedule listing fail-soft for signed-in readers.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeRemoteError(w http.ResponseWriter, status int, rerr *remote.Error) {
	writeJSON(w, status, errorBody{Error: rerr.Message, Code: rerr.Code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type scheduleBody struct {
	ID        string     `json:"id"`
	UserID    *string    `json:"user_id"`
	Date      string     `json:"date"`
	TimeSlot  string     `json:"time_slot"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func scheduleOf(s domain.Schedule) scheduleBody {
	return scheduleBody{
		ID:        s.ID,
		UserID:    s.UserID,
		Date:      s.Date,
		TimeSlot:  s.TimeSlot,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func schedulesOf(in []domain.Schedule) []scheduleBody {
	out := make([]scheduleBody, 0, len(in))
	for _, s := range in {
		out = append(out, scheduleOf(s))
	}
	return out
}

type profileBody struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func profileOf(p *domain.Profile) *profileBody {
	if p == nil {
		return nil
	}
	return &profileBody{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      string(p.Role),
		CreatedAt: p.CreatedAt,
	}
}

func logAttr(err error) slog.Attr {
	return slog.Any("err", err)
}
