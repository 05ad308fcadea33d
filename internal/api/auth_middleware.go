package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/domain"
)

// sessionToken reads the bearer header, falling back to the session cookie
func sessionToken(r *http.Request) string {
	if h := r.Header.Get(AuthorizationHeader); h != "" {
		if !strings.HasPrefix(h, BearerPrefix) {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// authMiddleware resolves the session into the request user
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check and metrics endpoints
		if r.URL.Path == HealthPath || r.URL.Path == MetricsPath {
			next.ServeHTTP(w, r)
			return
		}

		token := sessionToken(r)
		if token == "" {
			log.Debug().Str("path", r.URL.Path).Msg("Request without session")
			writeError(w, http.StatusUnauthorized, ErrAuthRequired)
			return
		}

		u, err := s.accounts.Authenticate(r.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg(LogSessionRejected)
			writeError(w, http.StatusUnauthorized, ErrInvalidSession)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin answers 403 to non-admin callers
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := UserFromContext(r.Context())
		if err != nil || !authz.IsAdmin(u) {
			writeError(w, http.StatusForbidden, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the authenticated user of the request
func UserFromContext(ctx context.Context) (*domain.User, error) {
	u, ok := ctx.Value(UserKey).(*domain.User)
	if !ok || u == nil {
		return nil, errors.New("user not found in context")
	}
	return u, nil
}

// caller is UserFromContext for handlers mounted behind authMiddleware
func caller(r *http.Request) *domain.User {
	u, _ := UserFromContext(r.Context())
	return u
}
