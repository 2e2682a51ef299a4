// Package middlewarectx содержит HTTP middleware административного API.
//
// TokenMiddleware проверяет статический токен в заголовке Authorization:
// административный API обслуживает только операторов сервиса, личные
// учётные записи и роли ему не нужны.
package middlewarectx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/avdeevlv/clubgate/internal/http/response"
)

// TokenMiddleware возвращает HTTP middleware, который сверяет токен
// из заголовка Authorization со статическим токеном из конфигурации.
//
// При несовпадении возвращает HTTP 401 Unauthorized.
func TokenMiddleware(apiToken string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.TokenMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			if subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
				log.Error("invalid token")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
