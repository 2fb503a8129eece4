package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/platform/auth/tokenverifier"
)

// NewAuthMiddleware enforces Authorization: Bearer <JWT> for all API
// endpoints. On success the verified identity is stored in request context.
func NewAuthMiddleware(v *tokenverifier.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health endpoint stays unauthenticated for infra checks.
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}

			id, err := v.Verify(raw, time.Now())
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{
				Subject: id.Subject,
				Role:    id.Role,
			})))
		})
	}
}

// NewDevAuthMiddleware is a local/dev-only auth shim. It accepts an
// explicit caller via X-Debug-Subject and X-Debug-Role headers. Do NOT
// use this outside local development.
func NewDevAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			sub := strings.TrimSpace(r.Header.Get("X-Debug-Subject"))
			if sub == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject (set X-Debug-Subject)", nil)
				return
			}
			role := domain.Role(strings.TrimSpace(r.Header.Get("X-Debug-Role")))
			switch role {
			case domain.RoleAdventurer, domain.RoleAgent, domain.RoleAdmin:
			case "":
				role = domain.RoleAdventurer
			default:
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unknown role (X-Debug-Role)", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{
				Subject: domain.SubjectID(sub),
				Role:    role,
			})))
		})
	}
}
