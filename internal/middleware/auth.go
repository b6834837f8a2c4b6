package middleware

import (
	"net/http"

	"github.com/aditya/ride-dispatch/internal/auth"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/pkg/utils"
)

// Authenticate resolves the actor from the bearer token and stores it on the
// request context. Requests without a valid token get 401.
func Authenticate(jwt *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				utils.Error(w, apperrors.Unauthorized("missing bearer token"))
				return
			}

			actor, err := jwt.Verify(token)
			if err != nil {
				utils.Error(w, apperrors.Unauthorized("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFrom(r.Context())
			if !ok {
				utils.Error(w, apperrors.Unauthorized("not authenticated"))
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.Error(w, apperrors.Forbidden("this endpoint is not available for role "+actor.Role))
		})
	}
}
