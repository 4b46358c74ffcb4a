package rbac

import (
	"log/slog"
	"net/http"

	"github.com/barangay-portal/portal/internal/profiles"
)

// Middleware wires role guards for HTTP handlers.
type Middleware struct {
	Source ViewerSource
	Logger *slog.Logger
}

// Attach places the viewer in the request context when the session is usable.
// Anonymous requests pass through untouched.
func (m Middleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Source == nil {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := ViewerFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		viewer, ok := m.Source.ViewerFor(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithViewer(r.Context(), viewer)))
	})
}

// RequireAuthenticated rejects requests without a usable session.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.RequireRole()
}

// RequireRole ensures the viewer holds at least one of the roles. With no
// roles any usable session passes.
func (m Middleware) RequireRole(roles ...profiles.Role) func(http.Handler) http.Handler {
	allowed := normalizeRoles(roles)
	restricted := len(roles) > 0
	return func(next http.Handler) http.Handler {
		return m.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer, ok := ViewerFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if restricted && !viewer.HasRole(allowed...) {
				if m.Logger != nil {
					m.Logger.Warn("rbac role denied",
						slog.String("user_id", viewer.UserID.String()),
						slog.String("role", string(viewer.Role)),
						slog.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func normalizeRoles(roles []profiles.Role) []profiles.Role {
	unique := make(map[profiles.Role]struct{}, len(roles))
	normalized := make([]profiles.Role, 0, len(roles))
	for _, role := range roles {
		parsed, err := profiles.ParseRole(string(role))
		if err != nil {
			continue
		}
		if _, ok := unique[parsed]; ok {
			continue
		}
		unique[parsed] = struct{}{}
		normalized = append(normalized, parsed)
	}
	return normalized
}
