package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/model"
	"github.com/caixalink/pairing-server-go/internal/service"
	"github.com/caixalink/pairing-server-go/internal/util"
)

type contextKey string

const SessionContextKey contextKey = "session"

func GetSession(ctx context.Context) *model.Session {
	if session, ok := ctx.Value(SessionContextKey).(*model.Session); ok {
		return session
	}
	return nil
}

// AuthMiddleware resolves the bearer token to a live session in the
// directory. A token whose session is gone (disconnected, pruned) is
// indistinguishable from an invalid one.
type AuthMiddleware struct {
	dir *service.Directory
}

func NewAuthMiddleware(dir *service.Directory) *AuthMiddleware {
	return &AuthMiddleware{dir: dir}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing session token",
			})
			return
		}

		session, ok := m.dir.GetByToken(util.HashToken(token))
		if !ok {
			log.Warn().Msg("auth middleware: invalid session token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid session token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, &session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
