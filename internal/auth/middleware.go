package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/users"
)

// Middleware authenticates the bearer token and stores the actor in the
// request context.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := svc.ValidateAccessToken(parts[1])
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}
			actor, err := claims.Actor()
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}
			if svc.IsRevoked(r.Context(), actor.ID) {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(users.WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...users.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := users.ActorFromContext(r.Context())
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}
			if !slices.Contains(roles, actor.Role) {
				api.HandleError(w, api.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
