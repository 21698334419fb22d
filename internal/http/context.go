package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/neighborhood-portal/internal/application"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	suratIDContextKey   contextKey = "surat_id"
)

// ContextWithPrincipal returns a derived context containing the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal application.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from context if available.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(application.Principal)
	return principal, ok
}

// ContextWithSuratID records the Surat Pengantar addressed by the request path.
func ContextWithSuratID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, suratIDContextKey, id)
}

// SuratIDFromContext returns the Surat Pengantar ID resolved from the path.
func SuratIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(suratIDContextKey).(string)
	return id, ok && id != ""
}

// withSuratID copies the {id} path parameter into the context so handlers
// and their loggers share one resolved value.
func withSuratID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chi.URLParam(r, "id"); id != "" {
			r = r.WithContext(ContextWithSuratID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
