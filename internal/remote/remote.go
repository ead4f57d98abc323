// Package remote defines the contract with the hosted auth service and
// the shapes its implementations share. The row-store side of the
// remote contract lives in internal/store as typed interfaces.
package remote

import (
	"context"
	"time"
)

// Error is the structured protocol error returned by the remote
// service. Transport faults are wrapped into plain errors by the
// clients; an *Error always means the service itself answered.
type Error struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Session is an authenticated session as issued by the auth service.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	UserID       string
	Email        string
}

func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && now.After(s.ExpiresAt))
}

// AuthUser is the raw identity record as the auth service reports it.
// Metadata carries the profile attributes attached at sign-up.
type AuthUser struct {
	ID        string
	Email     string
	Metadata  map[string]string
	CreatedAt time.Time
}

type SignUpResult struct {
	User    *AuthUser
	Session *Session
}

// AuthService is the identity side of the remote contract.
//
// SignInWithPassword may return (nil, nil): protocol-level success with
// no session issued, which happens when the account still awaits email
// confirmation. Callers must not treat that as an authenticated state.
type AuthService interface {
	CurrentSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (SignUpResult, error)
	SignOut(ctx context.Context) error
	CurrentUser(ctx context.Context) (*AuthUser, error)
}

type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventSignedOut      EventType = "signed_out"
	EventTokenRefreshed EventType = "token_refreshed"
)

// Event is a session-change notification. Session is nil for
// EventSignedOut.
type Event struct {
	Type    EventType
	Session *Session
}

// Notifier is the onSessionChange feed: at least one event per actual
// session transition, for the lifetime of the subscription.
type Notifier interface {
	Subscribe() *Subscription
}
