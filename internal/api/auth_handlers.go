package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/metrics"
)

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ActivateRequest carries the first password of an invited account
type ActivateRequest struct {
	Password string `json:"password"`
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *accounts.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.opts.TrustProxy)
	if !s.logins.Allow(ip) {
		log.Warn().Str("ip", ip).Msg(LogLoginThrottled)
		metrics.RecordLogin(metrics.ResultThrottle)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, ErrTooManyAttempts)
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	sess, err := s.accounts.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		log.Info().Str("username", req.Username).Str("ip", ip).Msg("Login failed")
		writeServiceError(w, r, err)
		return
	}

	s.setSessionCookie(w, sess)
	log.Info().Str("user_id", sess.User.ID).Str("ip", ip).Msg("Login succeeded")
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) logoutHandler(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) activateHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req ActivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	sess, err := s.accounts.Activate(r.Context(), vars["uid"], vars["token"], req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, newSessionView(sess))
}
