package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/puppals/mediastore/internal/ctxkeys"
	"github.com/puppals/mediastore/internal/service"
)

type authFailureKey struct{}

// Authenticate reads a bearer token and puts the user id into the context when
// it verifies. Requests without a token continue anonymously. Requests with a
// bad token continue too, but RequireAuth will answer them with 403.
func Authenticate(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ownerID, err := authService.UserID(token)
			if err != nil {
				slog.Debug("bearer token rejected", "error", err, "path", r.URL.Path)
				ctx := context.WithValue(r.Context(), authFailureKey{}, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctxkeys.WithOwnerID(r.Context(), ownerID)))
		})
	}
}

// RequireAuth answers 401 when no credential was sent and 403 when the
// credential did not verify.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.OwnerID(r.Context()) != "" {
			next(w, r)
			return
		}

		if failed, _ := r.Context().Value(authFailureKey{}).(bool); failed {
			writeError(w, http.StatusForbidden, "invalid_token", "invalid or expired token")
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="media"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
