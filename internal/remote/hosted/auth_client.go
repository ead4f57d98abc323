package hosted

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"studiobook/internal/remote"
)

// Auth speaks the hosted identity endpoints and keeps the issued
// session in memory for the lifetime of the process, refreshing it
// on demand when it nears expiry.
type Auth struct {
	*remote.Broadcaster

	client *Client
	log    *slog.Logger

	mu      sync.Mutex
	current *remote.Session
}

func NewAuth(baseURL, apiKey string, httpClient *http.Client, log *slog.Logger) *Auth {
	if log == nil {
		log = slog.Default()
	}
	a := &Auth{
		Broadcaster: remote.NewBroadcaster(),
		log:         log.With(slog.String("component", "auth.hosted")),
	}
	a.client = NewClient(baseURL, apiKey, httpClient, a.AccessToken)
	return a
}

// Client returns an HTTP client bound to this Auth's session token,
// suitable for the row stores.
func (a *Auth) Client() *Client {
	return a.client
}

// AccessToken returns the current access token, or "" when anonymous.
func (a *Auth) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return a.current.AccessToken
}

type authUserPayload struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	UserMetadata map[string]string `json:"user_metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (p *authUserPayload) toUser() *remote.AuthUser {
	if p == nil || p.ID == "" {
		return nil
	}
	md := p.UserMetadata
	if md == nil {
		md = map[string]string{}
	}
	return &remote.AuthUser{ID: p.ID, Email: p.Email, Metadata: md, CreatedAt: p.CreatedAt}
}

type tokenPayload struct {
	AccessToken  string           `json:"access_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int              `json:"expires_in"`
	RefreshToken string           `json:"refresh_token"`
	User         *authUserPayload `json:"user"`

	// sign-up answers without a session carry the user at top level
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (p *tokenPayload) session() *remote.Session {
	if p.AccessToken == "" {
		return nil
	}
	sess := &remote.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
	}
	if p.ExpiresIn != 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	if p.User != nil {
		sess.UserID = p.User.ID
		sess.Email = p.User.Email
	}
	return sess
}

func (p *tokenPayload) user() *authUserPayload {
	if p.User != nil {
		return p.User
	}
	if p.ID != "" {
		return &authUserPayload{ID: p.ID, Email: p.Email}
	}
	return nil
}

// CurrentSession returns the in-memory session, refreshing it first
// when it has expired and a refresh token is at hand.
func (a *Auth) CurrentSession(ctx context.Context) (*remote.Session, error) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if !current.Expired(time.Now()) {
		s := *current
		return &s, nil
	}
	if current.RefreshToken == "" {
		return nil, nil
	}
	return a.refresh(ctx, current.RefreshToken)
}

func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*remote.Session, error) {
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  "grant_type=password",
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, decodeError(status, data)
	}

	var payload tokenPayload
	if err := unmarshal(data, &payload); err != nil {
		return nil, err
	}
	sess := payload.session()
	if sess == nil {
		// protocol success, no session: account awaits confirmation
		return nil, nil
	}

	a.setCurrent(sess)
	a.Publish(remote.Event{Type: remote.EventSignedIn, Session: sess})
	return sess, nil
}

func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   body,
	})
	if err != nil {
		return remote.SignUpResult{}, err
	}
	if !ok(status) {
		return remote.SignUpResult{}, decodeError(status, data)
	}

	var payload tokenPayload
	if err := unmarshal(data, &payload); err != nil {
		return remote.SignUpResult{}, err
	}

	res := remote.SignUpResult{User: payload.user().toUser(), Session: payload.session()}
	if res.Session != nil {
		a.setCurrent(res.Session)
		a.Publish(remote.Event{Type: remote.EventSignedIn, Session: res.Session})
	}
	return res, nil
}

// SignOut drops the in-memory session and publishes the signed-out
// event no matter what the remote endpoint answers.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.current
	a.current = nil
	a.mu.Unlock()

	a.Publish(remote.Event{Type: remote.EventSignedOut})

	if current == nil {
		return nil
	}
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		bearer: current.AccessToken,
	})
	if err != nil {
		a.log.Warn("remote sign out failed", slog.Any("err", err))
		return err
	}
	if !ok(status) && status != http.StatusUnauthorized {
		return decodeError(status, data)
	}
	return nil
}

func (a *Auth) CurrentUser(ctx context.Context) (*remote.AuthUser, error) {
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodGet,
		path:   "/auth/v1/user",
	})
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, decodeError(status, data)
	}

	var payload authUserPayload
	if err := unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload.toUser(), nil
}

// VerifyToken asks the identity endpoint who the bearer token belongs
// to. The hosted service signs its own tokens, so verification is a
// round trip rather than a local parse.
func (a *Auth) VerifyToken(ctx context.Context, raw string) (string, error) {
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: raw,
	})
	if err != nil {
		return "", err
	}
	if !ok(status) {
		return "", decodeError(status, data)
	}

	var payload authUserPayload
	if err := unmarshal(data, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", &remote.Error{Message: "token resolved to no user", Code: "bad_jwt"}
	}
	return payload.ID, nil
}

func (a *Auth) refresh(ctx context.Context, refreshToken string) (*remote.Session, error) {
	status, data, err := a.client.do(ctx, requestSpec{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  "grant_type=refresh_token",
		body:   map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		// the stored session is dead; drop it
		a.setCurrent(nil)
		a.Publish(remote.Event{Type: remote.EventSignedOut})
		return nil, decodeError(status, data)
	}

	var payload tokenPayload
	if err := unmarshal(data, &payload); err != nil {
		return nil, err
	}
	sess := payload.session()
	if sess == nil {
		a.setCurrent(nil)
		return nil, nil
	}
	a.setCurrent(sess)
	a.Publish(remote.Event{Type: remote.EventTokenRefreshed, Session: sess})
	return sess, nil
}

func (a *Auth) setCurrent(sess *remote.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = sess
}
