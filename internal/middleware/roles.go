package middleware

import (
	"context"
	"net/http"

	"marketplace/internal/models"
)

type RoleStore interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RequireRole re-checks the role against storage so revoked grants take
// effect before the token expires.
func RequireRole(roles RoleStore, role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !actor.Has(role) {
				http.Error(w, "missing required role", http.StatusForbidden)
				return
			}
			granted, err := roles.HasRole(r.Context(), actor.UserID, string(role))
			if err != nil {
				http.Error(w, "unable to verify role", http.StatusInternalServerError)
				return
			}
			if !granted {
				http.Error(w, "missing required role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
