package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aditya/towbid/internal/auth"
	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/pkg/utils"
)

type actorKey struct{}

// WithActor stores the authenticated caller on ctx.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller resolved by Authenticate.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}

// Authenticate resolves the bearer token through the identity provider.
// EventSource cannot set headers, so the stream route may pass access_token instead.
func Authenticate(provider auth.IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.Error(w, r, apperrors.Unauthorized("missing bearer token"))
				return
			}

			actor, err := provider.ResolveToken(r.Context(), token)
			if err != nil {
				utils.Error(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), *actor)))
		})
	}
}

// RequireRole lets through only callers holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				utils.Error(w, r, apperrors.Unauthorized("not authenticated"))
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.Error(w, r, apperrors.Forbidden("role "+actor.Role+" cannot perform this operation"))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if strings.HasSuffix(r.URL.Path, "/stream") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
