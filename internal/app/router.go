package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/barangay-portal/portal/internal/calendar"
	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/observability"
	"github.com/barangay-portal/portal/internal/platform/httpx"
	"github.com/barangay-portal/portal/internal/prefetch"
	"github.com/barangay-portal/portal/internal/sessionapi"
	"github.com/barangay-portal/portal/internal/shared"
	"github.com/barangay-portal/portal/jobs"
)

// UnloadPath receives the beacon a tab sends while it closes.
const UnloadPath = "/session/unload"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	AuthHandler      *identity.Handler
	SessionHandler   *sessionapi.Handler
	CalendarHandler  *calendar.Handler
	DashboardHandler *prefetch.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
			CSRFExempt:     []string{UnloadPath},
		}) {
			r.Use(mw)
		}

		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.SessionHandler != nil {
			r.Route("/session", params.SessionHandler.MountRoutes)
		}
		if params.CalendarHandler != nil {
			r.Route("/calendar", params.CalendarHandler.MountRoutes)
		}
		if params.DashboardHandler != nil {
			r.Route("/dashboard", params.DashboardHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
