package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/barangay-portal/portal/internal/platform/httpx"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/rbac"
	"github.com/barangay-portal/portal/internal/shared"
)

// DefaultSpan is the window length used when a request omits "to".
const DefaultSpan = 31 * 24 * time.Hour

// IdempotencyHeader lets clients retry event creation safely.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "calendar.events"

// KeyStore claims idempotency keys.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes calendar endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	keys    KeyStore
	now     func() time.Time
}

// NewHandler constructs a calendar Handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: guard, now: time.Now}
}

// WithIdempotency makes POST /events honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(keys KeyStore) *Handler {
	h.keys = keys
	return h
}

// MountRoutes registers calendar routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Attach)
		r.Get("/events", h.handleCalendar)
		r.Get("/list", h.handleList)
		r.Get("/describe", h.handleDescribe)
		r.Get("/public.ics", h.handleICS)
	})
	r.With(h.rbac.RequireRole(profiles.RoleAdmin, profiles.RoleStaff)).Post("/events", h.handleCreate)
}

type instanceResponse struct {
	Instance
	RecurrenceLabel string `json:"recurrence_label"`
	CategoryLabel   string `json:"category_label"`
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Calendar(r.Context(), q)
	if err != nil {
		h.respondFailure(w, "calendar", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": decorate(items)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, perPage, err := shared.PageParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), q)
	if err != nil {
		h.respondFailure(w, "calendar list", err)
		return
	}
	pagination := shared.NewPagination(page, perPage, len(items))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      decorate(shared.PageOf(items, pagination)),
		"pagination": pagination,
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateEventInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if viewer, ok := rbac.ViewerFromContext(r.Context()); ok && viewer.BarangayID != nil {
		in.BarangayID = *viewer.BarangayID
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.keys != nil {
		if err := h.keys.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.respondFailure(w, "claim idempotency key", err)
			return
		}
	}
	ev, err := h.service.Create(r.Context(), in)
	if err != nil {
		if key != "" && h.keys != nil {
			if delErr := h.keys.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondFailure(w, "create event", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("rrule")
	resp := map[string]any{"label": DescribeRule(raw)}
	if strings.TrimSpace(raw) != "" {
		if d, err := ParseDescriptor(raw); err == nil {
			resp["rule"] = d.String()
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleICS(w http.ResponseWriter, r *http.Request) {
	barangayID, err := parseBarangay(r.URL.Query().Get("barangay_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	window, err := h.window(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, err := h.service.ExportICS(r.Context(), barangayID, window, r.URL.Query().Get("name"))
	if err != nil {
		h.respondFailure(w, "export ics", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="barangay-calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) query(r *http.Request) (Query, error) {
	window, err := h.window(r)
	if err != nil {
		return Query{}, err
	}
	q := Query{Window: window}
	if viewer, ok := rbac.ViewerFromContext(r.Context()); ok {
		role := viewer.Role
		q.Role = &role
		if viewer.BarangayID != nil {
			q.BarangayID = *viewer.BarangayID
		}
	}
	if raw := r.URL.Query().Get("barangay_id"); raw != "" && (q.BarangayID == 0 || (q.Role != nil && q.Role.CrossBarangay())) {
		id, err := parseBarangay(raw)
		if err != nil {
			return Query{}, err
		}
		q.BarangayID = id
	}
	return q, nil
}

func (h *Handler) window(r *http.Request) (Window, error) {
	loc := h.service.Location()
	start := startOfDay(h.now().In(loc))
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := parseTime(raw, loc)
		if err != nil {
			return Window{}, err
		}
		start = t
	}
	end := start.Add(DefaultSpan)
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := parseTime(raw, loc)
		if err != nil {
			return Window{}, err
		}
		if len(raw) == len(time.DateOnly) {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		end = t
	}
	w := Window{Start: start, End: end}
	if !w.Valid() {
		return Window{}, fmt.Errorf("%w: %v", shared.ErrValidation, ErrInvalidWindow)
	}
	return w, nil
}

func (h *Handler) respondFailure(w http.ResponseWriter, op string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func decorate(items []Instance) []instanceResponse {
	out := make([]instanceResponse, len(items))
	for i, item := range items {
		label := "Does not repeat"
		if item.Recurring {
			label = DescribeRule(item.Recurrence)
		}
		out[i] = instanceResponse{Instance: item, RecurrenceLabel: label, CategoryLabel: item.Category.Label()}
	}
	return out
}

func parseBarangay(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: barangay_id must be a positive integer", shared.ErrValidation)
	}
	return id, nil
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
