package handler

import (
	"context"
	"net/http"

	"github.com/rookgm/cryptomart/internal/models"
	"github.com/rookgm/cryptomart/internal/service"
)

// authCookieName is the cookie carrying the admin session token. Login
// and registration set it, AuthMiddleware reads it.
const authCookieName = "auth_token"

type contextKey string

const (
	authPayloadKey contextKey = "auth_payload"
)

// AuthMiddleware guards admin routes: the session token is read from
// the cookie, verified, and its payload stored in the request context
// for the handlers behind the middleware.
func AuthMiddleware(ts service.TokenService) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(authCookieName)
			if err != nil {
				http.Error(w, "missing auth cookie", http.StatusUnauthorized)
				return
			}

			payload, err := ts.VerifyToken(cookie.Value)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getAuthPayload extracts the admin token payload from context
func getAuthPayload(ctx context.Context, key contextKey) (*models.TokenPayload, bool) {
	payload, ok := ctx.Value(key).(*models.TokenPayload)
	return payload, ok
}
