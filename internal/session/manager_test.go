package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
	"studiobook/internal/store"
)

func profileStoreReturning(p domain.Profile) *fakeProfiles {
	return &fakeProfiles{
		getFn: func(ctx context.Context, id string) (domain.Profile, error) {
			if id == p.ID {
				return p, nil
			}
			return domain.Profile{}, store.ErrNotFound
		},
	}
}

func waitForState(t *testing.T, m *Manager, pred func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := m.Current()
		if pred(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached, last = %+v", m.Current())
	return State{}
}

func TestManagerStartResolvesExistingSession(t *testing.T) {
	auth := newFakeAuth()
	auth.currentSessionFn = func(ctx context.Context) (*remote.Session, error) {
		return &remote.Session{UserID: "u1", Email: "u1@example.com"}, nil
	}

	m := NewManager(auth, auth, NewResolver(auth, profileStoreReturning(domain.Profile{
		ID: "u1", Email: "u1@example.com", Name: "Ana", Role: domain.RoleUser,
	}), nil), nil)

	if !m.Current().Loading {
		t.Fatalf("state must be loading before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	st := m.Current()
	if st.Loading {
		t.Fatalf("still loading after Start")
	}
	if !st.Authenticated() || st.User.ID != "u1" {
		t.Fatalf("state = %+v, want authenticated u1", st)
	}
}

func TestManagerStartWithoutSessionIsAnonymous(t *testing.T) {
	auth := newFakeAuth()

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	st := m.Current()
	if st.Loading || st.Authenticated() {
		t.Fatalf("state = %+v, want anonymous not-loading", st)
	}
}

func TestManagerStartProfileStoreFailureIsTerminalAnonymous(t *testing.T) {
	auth := newFakeAuth()
	auth.currentSessionFn = func(ctx context.Context) (*remote.Session, error) {
		return &remote.Session{UserID: "u1"}, nil
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{
		healthFn: func(ctx context.Context) error { return errors.New("unreachable") },
	}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	st := m.Current()
	if st.Loading {
		t.Fatalf("loading must be false in the terminal state")
	}
	if st.Authenticated() {
		t.Fatalf("user must stay unset when resolution fails")
	}
}

func TestManagerFollowsSessionEvents(t *testing.T) {
	auth := newFakeAuth()

	m := NewManager(auth, auth, NewResolver(auth, profileStoreReturning(domain.Profile{
		ID: "u2", Email: "u2@example.com", Name: "Budi", Role: domain.RoleUser,
	}), nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	auth.Publish(remote.Event{Type: remote.EventSignedIn, Session: &remote.Session{UserID: "u2"}})
	st := waitForState(t, m, func(s State) bool { return s.Authenticated() })
	if st.User.ID != "u2" {
		t.Fatalf("user = %q, want %q", st.User.ID, "u2")
	}

	auth.Publish(remote.Event{Type: remote.EventSignedOut})
	waitForState(t, m, func(s State) bool { return !s.Authenticated() })
}

func TestManagerSubscribeReceivesUpdates(t *testing.T) {
	auth := newFakeAuth()
	m := NewManager(auth, auth, NewResolver(auth, profileStoreReturning(domain.Profile{ID: "u1"}), nil), nil)

	ch, cancelSub := m.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	select {
	case st := <-ch:
		if st.Loading {
			t.Fatalf("published state still loading")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no state published to subscriber")
	}
}

func TestSignInSurfacesProtocolErrorVerbatim(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, &remote.Error{Message: "Invalid login credentials", Code: "invalid_credentials"}
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	_, err := m.SignIn(context.Background(), "u@example.com", "nope")
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %T, want *remote.Error", err)
	}
	if rerr.Message != "Invalid login credentials" {
		t.Fatalf("message = %q, want it verbatim", rerr.Message)
	}
}

func TestSignInWithoutSessionReportsConfirmationNeeded(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, nil
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if _, err := m.SignIn(ctx, "u@example.com", "pw"); !errors.Is(err, ErrEmailNotConfirmed) {
		t.Fatalf("err = %v, want ErrEmailNotConfirmed", err)
	}
	if m.Current().Authenticated() {
		t.Fatalf("user must remain unset")
	}
}

func TestSignInTransportFaultIsNormalized(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, errors.New("connection refused")
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	_, err := m.SignIn(context.Background(), "u@example.com", "pw")
	if err == nil {
		t.Fatalf("expected error")
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		t.Fatalf("transport fault must not surface as a protocol error")
	}
	if err.Error() != "an unexpected error occurred" {
		t.Fatalf("err = %q, want the generic message", err.Error())
	}
}

func TestSignUpPendingConfirmationIsSuccessWithMessage(t *testing.T) {
	auth := newFakeAuth()
	auth.signUpFn = func(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error) {
		if metadata["name"] != "Ana" {
			t.Fatalf("metadata name = %q, want %q", metadata["name"], "Ana")
		}
		return remote.SignUpResult{User: &remote.AuthUser{ID: "u1", Email: email}}, nil
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	out, err := m.SignUp(ctx, "u@example.com", "pw123456", "Ana")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if out.Message == "" {
		t.Fatalf("expected an informational confirmation message")
	}
	if m.Current().Authenticated() {
		t.Fatalf("no current user may be set while confirmation is pending")
	}
}

func TestSignOutAlwaysClearsUser(t *testing.T) {
	auth := newFakeAuth()
	auth.currentSessionFn = func(ctx context.Context) (*remote.Session, error) {
		return &remote.Session{UserID: "u1"}, nil
	}
	auth.signOutFn = func(ctx context.Context) error {
		return errors.New("remote sign out failed")
	}

	m := NewManager(auth, auth, NewResolver(auth, profileStoreReturning(domain.Profile{ID: "u1"}), nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if !m.Current().Authenticated() {
		t.Fatalf("precondition: user must be signed in")
	}

	m.SignOut(ctx)
	if m.Current().Authenticated() {
		t.Fatalf("user must be cleared even when the remote call fails")
	}
}

func TestSignInReturnsTheSessionMintedForTheCall(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return &remote.Session{AccessToken: "token-" + email, UserID: email, Email: email}, nil
	}

	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	sess, err := m.SignIn(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if sess == nil || sess.AccessToken != "token-a@example.com" {
		t.Fatalf("session = %+v, want the one issued for this caller", sess)
	}
}

func TestSubscriberAlwaysHoldsNewestState(t *testing.T) {
	auth := newFakeAuth()
	m := NewManager(auth, auth, NewResolver(auth, &fakeProfiles{}, nil), nil)

	ch, cancel := m.Subscribe()
	defer cancel()

	// the subscriber never drains between these two updates; the
	// buffered value must be the second one, not the first
	m.setUser(&domain.Profile{ID: "u1"})
	m.setUser(nil)

	select {
	case st := <-ch:
		if st.Authenticated() {
			t.Fatalf("state = %+v, want the newest (anonymous) state", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("no state buffered for subscriber")
	}
}
