package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

const validToken = "token-juan"

type stubProfiles struct {
	mu       sync.Mutex
	profile  profiles.Profile
	online   []bool
	settings map[string]string
}

func (s *stubProfiles) Profile(ctx context.Context, id uuid.UUID) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.profile.ID {
		return profiles.Profile{}, shared.ErrNotFound
	}
	return s.profile, nil
}

func (s *stubProfiles) Status(ctx context.Context, id uuid.UUID) (profiles.StatusCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return profiles.StatusCheck{Status: s.profile.Status, MustReset: s.profile.MustReset}, nil
}

func (s *stubProfiles) Role(ctx context.Context, id uuid.UUID) (profiles.Role, error) {
	return "", shared.ErrNotFound
}

func (s *stubProfiles) BarangayApproved(ctx context.Context, id int64) (bool, error) {
	return true, nil
}

func (s *stubProfiles) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append(s.online, online)
	return nil
}

func (s *stubProfiles) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (s *stubProfiles) Settings(ctx context.Context, id uuid.UUID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *stubProfiles) PutSettings(ctx context.Context, id uuid.UUID, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = values
	return nil
}

func (s *stubProfiles) setStatus(status profiles.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Status = status
}

func (s *stubProfiles) onlineWrites() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.online...)
}

type stubProvider struct {
	err error
}

func (p *stubProvider) SignOut(ctx context.Context, id uuid.UUID) error {
	return p.err
}

type stubVerifier struct {
	principals map[string]identity.Principal
}

func (v stubVerifier) Verify(ctx context.Context, raw string) (identity.Principal, error) {
	p, ok := v.principals[raw]
	if !ok {
		return identity.Principal{}, shared.ErrUnauthorized
	}
	return p, nil
}

type manualScheduler struct {
	mu   sync.Mutex
	next cron.EntryID
	jobs map[cron.EntryID]func()
}

func (s *manualScheduler) AddFunc(spec string, cmd func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = make(map[cron.EntryID]func())
	}
	s.next++
	s.jobs[s.next] = cmd
	return s.next, nil
}

func (s *manualScheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *manualScheduler) tick() {
	s.mu.Lock()
	jobs := make([]func(), 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()
	for _, job := range jobs {
		job()
	}
}

type harness struct {
	t         *testing.T
	mr        *miniredis.Miniredis
	sessions  *shared.SessionManager
	registry  *Registry
	router    chi.Router
	store     *stubProfiles
	provider  *stubProvider
	scheduler *manualScheduler
	tabID     string
}

func newHarness(t *testing.T, role profiles.Role, status profiles.Status) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "portal_tab", time.Hour, false)

	barangay := int64(4)
	store := &stubProfiles{profile: profiles.Profile{
		ID:         uuid.New(),
		BarangayID: &barangay,
		FullName:   "Maria Santos",
		Role:       role,
		Status:     status,
	}}
	provider := &stubProvider{}
	scheduler := &manualScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	factory := NewFactory(gate.Deps{
		Profiles:  store,
		Settings:  store,
		Provider:  provider,
		Scheduler: scheduler,
		Logger:    logger,
	}, sessions)
	registry := NewRegistry(factory, logger, time.Hour)
	t.Cleanup(registry.Close)

	verifier := stubVerifier{principals: map[string]identity.Principal{
		validToken: {
			ID:        store.profile.ID,
			Email:     "maria@brgy.local",
			Assurance: identity.Assurance{Current: identity.LevelAAL1, Next: identity.LevelAAL1},
		},
	}}
	handler := NewHandler(logger, registry, sessions, shared.NewCSRFManager("csrf-secret"), verifier)
	router := chi.NewRouter()
	router.Route("/session", handler.MountRoutes)

	return &harness{
		t:         t,
		mr:        mr,
		sessions:  sessions,
		registry:  registry,
		router:    router,
		store:     store,
		provider:  provider,
		scheduler: scheduler,
		tabID:     uuid.NewString(),
	}
}

func (h *harness) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: h.tabID})
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	sess, err := h.sessions.Load(context.Background(), req)
	require.NoError(h.t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.NoError(h.t, h.sessions.Commit(ctx, rec, req, sess))
	return rec
}

func (h *harness) signIn() stateBody {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/session/events", map[string]any{
		"event":   "SIGNED_IN",
		"route":   gate.RouteSignIn,
		"visible": true,
	}, validToken)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeState(h.t, rec)
}

type stateBody struct {
	Decision *struct {
		Event    string `json:"event"`
		Phase    string `json:"phase"`
		Navigate string `json:"navigate"`
		Reason   string `json:"reason"`
		Ignored  bool   `json:"ignored"`
	} `json:"decision"`
	Session struct {
		Phase      string            `json:"phase"`
		Route      string            `json:"route"`
		Restricted bool              `json:"restricted"`
		Polling    bool              `json:"polling"`
		Settings   profiles.Settings `json:"settings"`
	} `json:"session"`
	Navigations []string      `json:"navigations"`
	Notices     []gate.Notice `json:"notices"`
	CSRFToken   string        `json:"csrf_token"`
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateBody {
	t.Helper()
	var body stateBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStateIssuesCSRFToken(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)

	rec := h.do(http.MethodGet, "/session", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeState(t, rec)
	assert.Equal(t, "unauthenticated", body.Session.Phase)
	assert.NotEmpty(t, body.CSRFToken)
	assert.Empty(t, body.Navigations)
	assert.Equal(t, profiles.DefaultSettings(), body.Session.Settings)

	raw, err := h.mr.Get("session:" + h.tabID)
	require.NoError(t, err)
	assert.Contains(t, raw, body.CSRFToken)
}

func TestSignInEventNavigatesOnce(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)

	first := h.signIn()
	require.NotNil(t, first.Decision)
	assert.Equal(t, "SIGNED_IN", first.Decision.Event)
	assert.Equal(t, "usable", first.Decision.Phase)
	assert.Equal(t, gate.RouteHub, first.Decision.Navigate)
	assert.Equal(t, []string{gate.RouteHub}, first.Navigations)
	assert.True(t, first.Session.Polling)

	second := h.signIn()
	assert.Empty(t, second.Decision.Navigate)
	assert.Empty(t, second.Navigations)

	raw, err := h.mr.Get("session:" + h.tabID)
	require.NoError(t, err)
	assert.Contains(t, raw, h.store.profile.ID.String())
	assert.Equal(t, 1, h.registry.Len())
}

func TestSignInBlockedProfile(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusPending)

	body := h.signIn()

	assert.Equal(t, "blocked", body.Decision.Phase)
	assert.Equal(t, string(gate.ReasonPending), body.Decision.Reason)
	assert.Equal(t, []string{gate.RouteSignIn}, body.Navigations)
	require.Len(t, body.Notices, 1)
	assert.Equal(t, gate.ReasonPending, body.Notices[0].Reason)
	assert.False(t, body.Session.Polling)
}

func TestEventRejectsBadInput(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)

	rec := h.do(http.MethodPost, "/session/events", map[string]any{"event": "SIGNED_IN", "route": gate.RouteSignIn}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/session/events", map[string]any{"event": "SIGNED_IN"}, "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/session/events", map[string]any{"event": "USER_DELETED"}, validToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/session/events", map[string]any{"event": "SIGNED_IN", "route": "login"}, validToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignedOutEventNeedsNoToken(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	h.signIn()

	rec := h.do(http.MethodPost, "/session/events", map[string]any{"event": "SIGNED_OUT"}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeState(t, rec)
	assert.Equal(t, "signed_out", body.Session.Phase)
	assert.False(t, body.Session.Polling)
}

func TestPollResultsReachTheTab(t *testing.T) {
	h := newHarness(t, profiles.RoleAdmin, profiles.StatusApproved)
	h.signIn()
	rec := h.do(http.MethodPost, "/session/route", map[string]string{"route": gate.RouteDashboard}, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	h.store.setStatus(profiles.StatusBanned)
	h.scheduler.tick()

	body := decodeState(t, h.do(http.MethodGet, "/session", nil, ""))
	assert.Equal(t, "blocked", body.Session.Phase)
	assert.Equal(t, []string{gate.RouteSignIn}, body.Navigations)
	require.Len(t, body.Notices, 1)
	assert.Equal(t, gate.ReasonBanned, body.Notices[0].Reason)

	again := decodeState(t, h.do(http.MethodGet, "/session", nil, ""))
	assert.Empty(t, again.Navigations)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	h.signIn()

	rec := h.do(http.MethodPost, "/session/signout", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeState(t, rec)
	assert.Equal(t, "signed_out", body.Session.Phase)
	assert.Equal(t, []string{gate.RouteSignIn}, body.Navigations)
	assert.Zero(t, h.registry.Len())
	assert.False(t, h.mr.Exists("session:"+h.tabID))
	assert.Equal(t, []bool{true, false}, h.store.onlineWrites())
}

func TestSignOutProviderFailure(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	h.signIn()
	h.provider.err = errors.New("provider down")

	rec := h.do(http.MethodPost, "/session/signout", nil, "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Zero(t, h.registry.Len())
}

func TestUnloadMarksOffline(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	h.signIn()

	rec := h.do(http.MethodPost, "/session/unload", nil, "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool {
		writes := h.store.onlineWrites()
		return len(writes) == 2 && !writes[1]
	}, time.Second, 10*time.Millisecond)
}

func TestSettingsEndpoints(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	update := map[string]any{
		"chatbot_enabled":                       false,
		"chatbot_mode":                          "online",
		"auto_fill_address_from_admin_barangay": true,
	}

	rec := h.do(http.MethodPut, "/session/settings", update, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	h.signIn()
	rec = h.do(http.MethodPut, "/session/settings", map[string]any{"chatbot_mode": "chatty"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/session/settings", update, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false", h.store.settings[profiles.KeyChatbotEnabled])

	rec = h.do(http.MethodPost, "/session/settings/refresh", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got profiles.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, profiles.Settings{ChatbotEnabled: false, ChatbotMode: "online", AutoFillAddress: true}, got)
}

func TestRequestWithoutSession(t *testing.T) {
	h := newHarness(t, profiles.RoleUser, profiles.StatusApproved)
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()

	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
