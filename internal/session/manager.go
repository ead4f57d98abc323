package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
)

// ErrEmailNotConfirmed is returned by SignIn when the auth service
// accepts the credentials but issues no session because the account
// still awaits email confirmation.
var ErrEmailNotConfirmed = errors.New("please check your email to confirm your account before signing in")

const confirmationMessage = "Please check your email to confirm your account before signing in."

// State is the current-session value visible to the whole application.
// Loading is true only between startup and the first resolution;
// {Loading: false, User: nil} is the terminal anonymous state.
type State struct {
	User    *domain.Profile
	Loading bool
}

func (s State) Authenticated() bool {
	return s.User != nil
}

type SignUpOutcome struct {
	Success bool
	Message string
	Session *remote.Session
}

// Manager owns the reactive current-session value. It resolves the
// profile for whatever session the auth service reports, consumes the
// session-change feed for the lifetime of its context, and exposes the
// identity operations. It never lets a remote fault escape to callers:
// every failure degrades to the anonymous state or an error result.
type Manager struct {
	auth     remote.AuthService
	notifier remote.Notifier
	resolver *Resolver
	log      *slog.Logger

	mu    sync.Mutex
	state State
	subs  map[int]chan State
	next  int
}

func NewManager(auth remote.AuthService, notifier remote.Notifier, resolver *Resolver, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		auth:     auth,
		notifier: notifier,
		resolver: resolver,
		log:      log.With(slog.String("component", "session.manager")),
		state:    State{Loading: true},
		subs:     make(map[int]chan State),
	}
}

// Start performs the initial session check, then consumes session
// events until ctx is done. The feed subscription is taken before the
// initial check so a transition racing startup is not lost.
func (m *Manager) Start(ctx context.Context) {
	sub := m.notifier.Subscribe()

	sess, err := m.auth.CurrentSession(ctx)
	if err != nil {
		m.log.Warn("initial session check failed", slog.Any("err", err))
		m.setUser(nil)
	} else if sess != nil {
		m.resolveAndSet(ctx, sess.UserID)
	} else {
		m.setUser(nil)
	}

	go m.consume(ctx, sub)
}

func (m *Manager) consume(ctx context.Context, sub *remote.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			m.log.Debug("session event", slog.String("type", string(ev.Type)))
			if ev.Session != nil {
				m.resolveAndSet(ctx, ev.Session.UserID)
			} else {
				m.setUser(nil)
			}
		}
	}
}

func (m *Manager) resolveAndSet(ctx context.Context, userID string) {
	p, err := m.resolver.Resolve(ctx, userID)
	if err != nil {
		// terminal anonymous state: no retry, nothing propagates
		m.setUser(nil)
		return
	}
	m.setUser(p)
}

// Current returns the session state as of the last resolution.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers for state updates. The returned cancel func must
// be called exactly once when the subscriber goes away.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan State, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if ch, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// setUser publishes the new state with replace-latest semantics: an
// undrained subscriber channel is emptied before the send so the value
// waiting there is always the newest state, never a stale one.
func (m *Manager) setUser(p *domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{User: p, Loading: false}
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m.state:
		default:
		}
	}
}

// SignIn delegates to the auth service and hands back the session
// minted for this call. A protocol error comes back verbatim; success
// without a session surfaces as ErrEmailNotConfirmed. True success
// does not set the user here: the session-change feed delivers it
// asynchronously.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	sess, err := m.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		m.log.Error("sign in failed", slog.Any("err", err))
		return nil, fmt.Errorf("an unexpected error occurred")
	}
	if sess == nil {
		return nil, ErrEmailNotConfirmed
	}
	return sess, nil
}

// SignUp attaches name as profile metadata. An account that was created
// but needs email confirmation is a success with an informational
// message, not an error, and sets no current user.
func (m *Manager) SignUp(ctx context.Context, email, password, name string) (SignUpOutcome, error) {
	res, err := m.auth.SignUp(ctx, email, password, map[string]string{"name": name})
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) {
			return SignUpOutcome{}, rerr
		}
		m.log.Error("sign up failed", slog.Any("err", err))
		return SignUpOutcome{}, fmt.Errorf("an unexpected error occurred")
	}
	if res.User != nil && res.Session == nil {
		return SignUpOutcome{Success: true, Message: confirmationMessage}, nil
	}
	return SignUpOutcome{Success: true, Session: res.Session}, nil
}

// SignOut clears the local state no matter what the remote call does;
// stale local state pointing at a dead session is never acceptable.
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.auth.SignOut(ctx); err != nil {
		m.log.Warn("remote sign out failed", slog.Any("err", err))
	}
	m.setUser(nil)
}
