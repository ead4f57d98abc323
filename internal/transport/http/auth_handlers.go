package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"studiobook/internal/remote"
	"studiobook/internal/session"
)

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type sessionBody struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

func sessionOf(sess *remote.Session) *sessionBody {
	if sess == nil {
		return nil
	}
	return &sessionBody{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		ExpiresAt:    sess.ExpiresAt,
		UserID:       sess.UserID,
		Email:        sess.Email,
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "SignUp"))

	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}

	outcome, err := s.sessions.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) {
			writeRemoteError(w, http.StatusBadRequest, rerr)
			return
		}
		log.Error("sign up failed", logAttr(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"success": outcome.Success}
	if outcome.Message != "" {
		resp["message"] = outcome.Message
	}
	if outcome.Session != nil {
		resp["session"] = sessionOf(outcome.Session)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "SignIn"))

	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}

	// the session minted for this call, never the process-level one: a
	// concurrent sign-in must not leak its token into this response
	sess, err := s.sessions.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, session.ErrEmailNotConfirmed) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		var rerr *remote.Error
		if errors.As(err, &rerr) {
			status := http.StatusBadRequest
			if rerr.Code == "invalid_credentials" {
				status = http.StatusUnauthorized
			}
			writeRemoteError(w, status, rerr)
			return
		}
		log.Error("sign in failed", logAttr(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionOf(sess)})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.sessions.SignOut(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profile": profileOf(ProfileFrom(r.Context()))})
}

// handleSessionState reports the reactive session value: whether the
// initial resolution is still in flight and who, if anyone, the
// process-level session belongs to.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"loading":       st.Loading,
		"authenticated": st.Authenticated(),
		"user":          profileOf(st.User),
	})
}
