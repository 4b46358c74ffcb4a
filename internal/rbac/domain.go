package rbac

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/barangay-portal/portal/internal/profiles"
)

// Viewer describes the actor behind a request whose session is usable.
type Viewer struct {
	UserID     uuid.UUID
	Role       profiles.Role
	BarangayID *int64
}

// HasRole reports whether the viewer holds one of roles.
func (v Viewer) HasRole(roles ...profiles.Role) bool {
	for _, role := range roles {
		if v.Role == role {
			return true
		}
	}
	return false
}

// ViewerSource resolves the viewer for a request, typically from the tab's gate.
type ViewerSource interface {
	ViewerFor(r *http.Request) (Viewer, bool)
}

type viewerContextKey struct{}

// ContextWithViewer stores the viewer in context.
func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, v)
}

// ViewerFromContext extracts the viewer from context.
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(viewerContextKey{}).(Viewer)
	return v, ok
}
