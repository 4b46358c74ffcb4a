package prefetch

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/barangay-portal/portal/internal/platform/httpx"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/rbac"
)

// Handler serves the cached dashboard summary.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: guard}
}

// MountRoutes registers the dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireRole(profiles.RoleAdmin, profiles.RoleStaff, profiles.RoleOverseer, profiles.RoleGlyph)).
		Get("/summary", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	viewer, _ := rbac.ViewerFromContext(r.Context())
	var barangayID int64
	if viewer.BarangayID != nil {
		barangayID = *viewer.BarangayID
	}
	if raw := r.URL.Query().Get("barangay_id"); raw != "" && viewer.Role.CrossBarangay() {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "barangay_id must be a positive integer")
			return
		}
		barangayID = id
	}
	summary, err := h.service.Dashboard(r.Context(), barangayID)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("prefetch dashboard", slog.Int64("barangay_id", barangayID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
