package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studiobook/internal/domain"
	"studiobook/internal/remote"
	"studiobook/internal/service/schedules"
	"studiobook/internal/session"
	"studiobook/internal/store"
)

type fakeAuth struct {
	*remote.Broadcaster

	currentSessionFn func(ctx context.Context) (*remote.Session, error)
	signInFn         func(ctx context.Context, email, password string) (*remote.Session, error)
	signUpFn         func(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error)
	signOutFn        func(ctx context.Context) error
	currentUserFn    func(ctx context.Context) (*remote.AuthUser, error)
	verifyFn         func(ctx context.Context, raw string) (string, error)
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{Broadcaster: remote.NewBroadcaster()}
}

func (f *fakeAuth) CurrentSession(ctx context.Context) (*remote.Session, error) {
	if f.currentSessionFn == nil {
		return nil, nil
	}
	return f.currentSessionFn(ctx)
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*remote.Session, error) {
	if f.signInFn == nil {
		panic("SignInWithPassword not configured")
	}
	return f.signInFn(ctx, email, password)
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error) {
	if f.signUpFn == nil {
		panic("SignUp not configured")
	}
	return f.signUpFn(ctx, email, password, metadata)
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	if f.signOutFn == nil {
		return nil
	}
	return f.signOutFn(ctx)
}

func (f *fakeAuth) CurrentUser(ctx context.Context) (*remote.AuthUser, error) {
	if f.currentUserFn == nil {
		panic("CurrentUser not configured")
	}
	return f.currentUserFn(ctx)
}

func (f *fakeAuth) VerifyToken(ctx context.Context, raw string) (string, error) {
	if f.verifyFn == nil {
		panic("VerifyToken not configured")
	}
	return f.verifyFn(ctx, raw)
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, userID string) (*domain.Profile, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, userID string) (*domain.Profile, error) {
	if f.resolveFn == nil {
		panic("Resolve not configured")
	}
	return f.resolveFn(ctx, userID)
}

type fakeScheduleRepo struct {
	listFn   func(ctx context.Context) ([]domain.Schedule, error)
	createFn func(ctx context.Context, s domain.Schedule) (domain.Schedule, error)
	updateFn func(ctx context.Context, id, date, timeSlot string, status domain.ScheduleStatus) (domain.Schedule, error)
	bookFn   func(ctx context.Context, id, userID string) ([]domain.Schedule, error)
	deleteFn func(ctx context.Context, id string) error
}

func (f *fakeScheduleRepo) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	if f.listFn == nil {
		panic("ListSchedules not configured")
	}
	return f.listFn(ctx)
}

func (f *fakeScheduleRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	if f.createFn == nil {
		panic("CreateSchedule not configured")
	}
	return f.createFn(ctx, s)
}

func (f *fakeScheduleRepo) UpdateSchedule(ctx context.Context, id, date, timeSlot string, status domain.ScheduleStatus) (domain.Schedule, error) {
	if f.updateFn == nil {
		panic("UpdateSchedule not configured")
	}
	return f.updateFn(ctx, id, date, timeSlot, status)
}

func (f *fakeScheduleRepo) BookSchedule(ctx context.Context, id, userID string) ([]domain.Schedule, error) {
	if f.bookFn == nil {
		panic("BookSchedule not configured")
	}
	return f.bookFn(ctx, id, userID)
}

func (f *fakeScheduleRepo) DeleteSchedule(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		panic("DeleteSchedule not configured")
	}
	return f.deleteFn(ctx, id)
}

var (
	userProfile  = domain.Profile{ID: "u1", Email: "u1@example.com", Name: "Ana", Role: domain.RoleUser}
	adminProfile = domain.Profile{ID: "a1", Email: "admin@example.com", Name: "Root", Role: domain.RoleAdmin}
)

// tokenOf maps a fixed bearer token to a profile in test servers.
var tokens = map[string]domain.Profile{
	"user-token":  userProfile,
	"admin-token": adminProfile,
}

func newTestServer(t *testing.T, auth *fakeAuth, repo *fakeScheduleRepo) *Server {
	t.Helper()
	if auth.verifyFn == nil {
		auth.verifyFn = func(ctx context.Context, raw string) (string, error) {
			if p, ok := tokens[raw]; ok {
				return p.ID, nil
			}
			return "", errors.New("unknown token")
		}
	}
	resolver := &fakeResolver{resolveFn: func(ctx context.Context, userID string) (*domain.Profile, error) {
		for _, p := range tokens {
			if p.ID == userID {
				p := p
				return &p, nil
			}
		}
		return nil, store.ErrNotFound
	}}

	mgr := session.NewManager(auth, auth, session.NewResolver(auth, nil, nil), nil)
	return NewServer(mgr, auth, resolver, schedules.NewService(repo, nil), NewRateLimiter(100, 100), nil)
}

func doRequest(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResp(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestListSchedulesRequiresAuth(t *testing.T) {
	srv := newTestServer(t, newFakeAuth(), &fakeScheduleRepo{})
	h := srv.Router()

	if w := doRequest(t, h, http.MethodGet, "/api/schedules/", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/api/schedules/", "bogus", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", w.Code)
	}
}

func TestListSchedulesFailSoft(t *testing.T) {
	repo := &fakeScheduleRepo{listFn: func(ctx context.Context) ([]domain.Schedule, error) {
		return nil, context.DeadlineExceeded
	}}
	srv := newTestServer(t, newFakeAuth(), repo)

	w := doRequest(t, srv.Router(), http.MethodGet, "/api/schedules/", "user-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite store failure", w.Code)
	}
	resp := decodeResp(t, w)
	rows, ok := resp["schedules"].([]any)
	if !ok || len(rows) != 0 {
		t.Fatalf("schedules = %v, want empty list", resp["schedules"])
	}
}

func TestCreateScheduleAdminOnly(t *testing.T) {
	repo := &fakeScheduleRepo{createFn: func(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
		s.ID = "s1"
		return s, nil
	}}
	srv := newTestServer(t, newFakeAuth(), repo)
	h := srv.Router()

	body := `{"date":"2026-09-01","time_slot":"09:00-10:00"}`
	if w := doRequest(t, h, http.MethodPost, "/api/schedules/", "user-token", body); w.Code != http.StatusForbidden {
		t.Errorf("non-admin create: status = %d", w.Code)
	}

	w := doRequest(t, h, http.MethodPost, "/api/schedules/", "admin-token", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create: status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp(t, w)
	sched, _ := resp["schedule"].(map[string]any)
	if sched["status"] != "available" {
		t.Errorf("default status = %v", sched["status"])
	}
	if sched["user_id"] != nil {
		t.Errorf("new slot must be unowned, got %v", sched["user_id"])
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	srv := newTestServer(t, newFakeAuth(), &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/schedules/", "admin-token",
		`{"date":"not-a-date","time_slot":"09:00-10:00"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBookSchedule(t *testing.T) {
	var gotUserID string
	repo := &fakeScheduleRepo{bookFn: func(ctx context.Context, id, userID string) ([]domain.Schedule, error) {
		gotUserID = userID
		uid := userID
		return []domain.Schedule{{ID: id, UserID: &uid, Date: "2026-09-01", TimeSlot: "09:00-10:00", Status: domain.StatusBooked}}, nil
	}}
	srv := newTestServer(t, newFakeAuth(), repo)

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/schedules/s1/book", "user-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if gotUserID != "u1" {
		t.Errorf("booked for %q, want the authenticated user", gotUserID)
	}
	resp := decodeResp(t, w)
	if resp["changed"] != true {
		t.Errorf("changed = %v", resp["changed"])
	}
}

func TestBookScheduleNoChange(t *testing.T) {
	repo := &fakeScheduleRepo{bookFn: func(ctx context.Context, id, userID string) ([]domain.Schedule, error) {
		return nil, nil
	}}
	srv := newTestServer(t, newFakeAuth(), repo)

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/schedules/ghost/book", "user-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, a vanished slot is an outcome not a failure", w.Code)
	}
	if resp := decodeResp(t, w); resp["changed"] != false {
		t.Errorf("changed = %v, want false", resp["changed"])
	}
}

func TestDeleteScheduleNotFound(t *testing.T) {
	repo := &fakeScheduleRepo{deleteFn: func(ctx context.Context, id string) error {
		return store.ErrNotFound
	}}
	srv := newTestServer(t, newFakeAuth(), repo)

	w := doRequest(t, srv.Router(), http.MethodDelete, "/api/schedules/ghost", "admin-token", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSignInSuccess(t *testing.T) {
	auth := newFakeAuth()
	sess := &remote.Session{AccessToken: "at-1", TokenType: "bearer", UserID: "u1", Email: "u1@example.com"}
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return sess, nil
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/auth/signin", "",
		`{"email":"u1@example.com","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp(t, w)
	got, _ := resp["session"].(map[string]any)
	if got["access_token"] != "at-1" {
		t.Errorf("session = %v", resp["session"])
	}
}

func TestSignInUnconfirmed(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, nil
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/auth/signin", "",
		`{"email":"u1@example.com","password":"pw"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	resp := decodeResp(t, w)
	if msg, _ := resp["error"].(string); !strings.Contains(msg, "confirm") {
		t.Errorf("error = %q, want confirmation prompt", msg)
	}
}

func TestSignInBadCredentials(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, &remote.Error{Message: "invalid login credentials", Code: "invalid_credentials"}
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/auth/signin", "",
		`{"email":"u1@example.com","password":"nope"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSignUpNeedsConfirmation(t *testing.T) {
	auth := newFakeAuth()
	auth.signUpFn = func(ctx context.Context, email, password string, metadata map[string]string) (remote.SignUpResult, error) {
		return remote.SignUpResult{User: &remote.AuthUser{ID: "u9", Email: email, Metadata: metadata}}, nil
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/auth/signup", "",
		`{"email":"new@example.com","password":"password1","name":"New"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp(t, w)
	if resp["success"] != true {
		t.Errorf("success = %v", resp["success"])
	}
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "confirm") {
		t.Errorf("message = %q, want confirmation prompt", msg)
	}
	if _, hasSession := resp["session"]; hasSession {
		t.Error("unconfirmed sign up must not return a session")
	}
}

func TestSignOutAlwaysSucceeds(t *testing.T) {
	auth := newFakeAuth()
	auth.signOutFn = func(ctx context.Context) error {
		return context.DeadlineExceeded
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodPost, "/api/auth/signout", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, sign out never fails for the caller", w.Code)
	}
}

func TestMe(t *testing.T) {
	srv := newTestServer(t, newFakeAuth(), &fakeScheduleRepo{})

	w := doRequest(t, srv.Router(), http.MethodGet, "/api/auth/me", "admin-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeResp(t, w)
	p, _ := resp["profile"].(map[string]any)
	if p["role"] != "admin" || p["id"] != "a1" {
		t.Errorf("profile = %v", resp["profile"])
	}
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		return nil, &remote.Error{Message: "invalid login credentials", Code: "invalid_credentials"}
	}

	mgr := session.NewManager(auth, auth, session.NewResolver(auth, nil, nil), nil)
	srv := NewServer(mgr, auth, &fakeResolver{}, schedules.NewService(&fakeScheduleRepo{}, nil), NewRateLimiter(1, 2), nil)
	h := srv.Router()

	body := `{"email":"u1@example.com","password":"nope"}`
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, doRequest(t, h, http.MethodPost, "/api/auth/signin", "", body).Code)
	}
	limited := false
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("codes = %v, burst never limited", codes)
	}
}

func TestConcurrentSignInsKeepTokensSeparate(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	auth := newFakeAuth()
	auth.signInFn = func(ctx context.Context, email, password string) (*remote.Session, error) {
		if email == "a@example.com" {
			close(entered)
			<-release
		}
		return &remote.Session{AccessToken: "token-" + email, TokenType: "bearer", UserID: email, Email: email}, nil
	}
	srv := newTestServer(t, auth, &fakeScheduleRepo{})
	h := srv.Router()

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- doRequest(t, h, http.MethodPost, "/api/auth/signin", "",
			`{"email":"a@example.com","password":"pw"}`)
	}()
	<-entered

	// a second sign-in runs to completion while the first is mid-flight
	wb := doRequest(t, h, http.MethodPost, "/api/auth/signin", "",
		`{"email":"b@example.com","password":"pw"}`)
	if wb.Code != http.StatusOK {
		t.Fatalf("second sign-in status = %d body = %s", wb.Code, wb.Body.String())
	}

	close(release)
	wa := <-first
	if wa.Code != http.StatusOK {
		t.Fatalf("first sign-in status = %d body = %s", wa.Code, wa.Body.String())
	}
	resp := decodeResp(t, wa)
	got, _ := resp["session"].(map[string]any)
	if got["access_token"] != "token-a@example.com" {
		t.Fatalf("first caller got token %v, want its own", got["access_token"])
	}
}
