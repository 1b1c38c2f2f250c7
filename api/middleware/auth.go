package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/medjbersoundous/backend-ramassage-packers/api/responses"
	pkgAuth "github.com/medjbersoundous/backend-ramassage-packers/pkg/auth"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// caller's id and role. EventSource clients cannot set headers, so an
// access_token query parameter is accepted as a fallback.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			actorID, err := claims.ActorID()
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token subject"))
				return
			}

			ctx := WithActor(r.Context(), actorID, claims.Role)
			if logg != nil {
				ctx = logg.WithUserID(ctx, strconv.FormatUint(uint64(actorID), 10))
				ctx = logg.WithActorRole(ctx, string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return raw
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
