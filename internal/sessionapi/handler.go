package sessionapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/platform/httpx"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

// TokenVerifier resolves the principal behind a provider access token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (identity.Principal, error)
}

// Handler serves the tab session endpoints.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	verifier  TokenVerifier
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, registry *Registry, sessions *shared.SessionManager, csrf *shared.CSRFManager, verifier TokenVerifier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		registry:  registry,
		sessions:  sessions,
		csrf:      csrf,
		verifier:  verifier,
		validator: validator.New(),
	}
}

// MountRoutes registers the session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleState)
	r.Post("/events", h.handleEvent)
	r.Post("/route", h.handleRoute)
	r.Post("/signout", h.handleSignOut)
	r.Post("/unload", h.handleUnload)
	r.Post("/settings/refresh", h.handleRefreshSettings)
	r.Put("/settings", h.handleUpdateSettings)
}

type stateResponse struct {
	Decision    *gate.Decision `json:"decision,omitempty"`
	Session     gate.Snapshot  `json:"session"`
	Navigations []string       `json:"navigations"`
	Notices     []gate.Notice  `json:"notices"`
	CSRFToken   string         `json:"csrf_token,omitempty"`
}

type eventRequest struct {
	Event   string `json:"event" validate:"required"`
	Route   string `json:"route" validate:"omitempty,startswith=/,max=200"`
	Visible *bool  `json:"visible"`
}

type routeRequest struct {
	Route string `json:"route" validate:"required,startswith=/,max=200"`
}

type settingsRequest struct {
	ChatbotEnabled  bool   `json:"chatbot_enabled"`
	ChatbotMode     string `json:"chatbot_mode" validate:"required,oneof=offline online"`
	AutoFillAddress bool   `json:"auto_fill_address_from_admin_barangay"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	tab, sess, ok := h.tab(w, r)
	if !ok {
		return
	}
	resp := h.state(tab, nil)
	if h.csrf != nil {
		token, err := h.csrf.EnsureToken(r.Context(), sess)
		if err != nil {
			h.logger.Warn("session csrf token", slog.Any("error", err))
		}
		resp.CSRFToken = token
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	tab, sess, ok := h.tab(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	kind, err := gate.ParseEventKind(req.Event)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}

	ev := gate.AuthEvent{Kind: kind, Route: req.Route, Visible: req.Visible == nil || *req.Visible}
	if kind != gate.EventSignedOut {
		principal, err := h.principal(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ev.Principal = &principal
	}

	d := tab.Gate.HandleEvent(r.Context(), ev)
	if !d.Ignored && d.Phase == gate.PhaseUsable {
		tab.Gate.Activate()
	}
	if ev.Principal != nil && d.Phase == gate.PhaseUsable {
		sess.SetUser(ev.Principal.ID.String())
	}
	if d.Phase == gate.PhaseSignedOut || d.Phase == gate.PhaseBlocked {
		sess.SetUser("")
	}
	httpx.JSON(w, http.StatusOK, h.state(tab, &d))
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	tab, _, ok := h.tab(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	tab.Gate.SetRoute(req.Route)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	tab, sess, ok := h.tab(w, r)
	if !ok {
		return
	}
	err := tab.Gate.SignOut(r.Context())
	resp := h.state(tab, nil)
	h.sessions.Destroy(sess)
	h.registry.Release(tab.ID)
	if err != nil {
		h.logger.Error("session sign out", slog.String("tab_id", tab.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Sign-out Incomplete", "The sign-in provider did not confirm the sign-out.")
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUnload(w http.ResponseWriter, r *http.Request) {
	if id, ok := shared.TabIDFromContext(r.Context()); ok {
		if tab, found := h.registry.Lookup(id); found {
			tab.Gate.Unload()
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRefreshSettings(w http.ResponseWriter, r *http.Request) {
	tab, _, ok := h.tab(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, tab.Gate.RefreshSettings(r.Context()))
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	tab, _, ok := h.tab(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	settings := profiles.Settings{
		ChatbotEnabled:  req.ChatbotEnabled,
		ChatbotMode:     req.ChatbotMode,
		AutoFillAddress: req.AutoFillAddress,
	}
	if !tab.Gate.Snapshot().Usable() {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := tab.Gate.UpdateSettings(r.Context(), settings); err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("session update settings", slog.String("tab_id", tab.ID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) tab(w http.ResponseWriter, r *http.Request) (*Tab, *shared.Session, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusBadRequest, "Session Required", "The request carried no tab session.")
		return nil, nil, false
	}
	tab, err := h.registry.Acquire(sess.ID)
	if err != nil {
		h.logger.Error("session acquire tab", slog.String("tab_id", sess.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return nil, nil, false
	}
	return tab, sess, true
}

func (h *Handler) principal(r *http.Request) (identity.Principal, error) {
	raw, ok := identity.BearerToken(r)
	if !ok {
		return identity.Principal{}, fmt.Errorf("%w: bearer token required", shared.ErrUnauthorized)
	}
	principal, err := h.verifier.Verify(r.Context(), raw)
	if err != nil {
		if !errors.Is(err, shared.ErrUnauthorized) {
			h.logger.Error("session verify token", slog.Any("error", err))
		}
		return identity.Principal{}, err
	}
	return principal, nil
}

func (h *Handler) state(tab *Tab, d *gate.Decision) stateResponse {
	navigations, notices := tab.Outbox.Drain()
	return stateResponse{
		Decision:    d,
		Session:     tab.Gate.Snapshot(),
		Navigations: navigations,
		Notices:     notices,
	}
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldErrs[0].Field() + ": " + fieldErrs[0].Tag()
	}
	return err.Error()
}
