// Package api is the JSON HTTP surface of the service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/exams"
	"lumavet.pet/lumavet/internal/metrics"
)

// Options tunes the HTTP layer
type Options struct {
	CookieSecure       bool
	TrustProxy         bool
	LoginRatePerMinute int
	CanonicalURL       string
	LegacyHostSuffix   string
}

// Server holds the handler dependencies
type Server struct {
	accounts *accounts.Service
	exams    *exams.Service
	opts     Options
	logins   *ipLimiter
	decoder  *schema.Decoder
}

// NewServer wires the services into an HTTP server
func NewServer(acct *accounts.Service, ex *exams.Service, opts Options) *Server {
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)
	return &Server{
		accounts: acct,
		exams:    ex,
		opts:     opts,
		logins:   newIPLimiter(opts.LoginRatePerMinute),
		decoder:  dec,
	}
}

// SetupRoutes configures the router and wraps it with the canonical domain
// redirect
func (s *Server) SetupRoutes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	// Add middleware to all routes
	r.Use(metrics.Middleware)
	r.Use(LoggingMiddleware)

	r.HandleFunc(HealthPath, healthHandler).Methods(http.MethodGet)
	r.Handle(MetricsPath, metrics.Handler()).Methods(http.MethodGet)

	// Public auth endpoints
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logoutHandler).Methods(http.MethodPost)
	auth.HandleFunc("/activate/{uid}/{token}", s.activateHandler).Methods(http.MethodPost)
	refuseOtherMethods(auth, "/login", "/logout", "/activate/{uid}/{token}")

	private := r.PathPrefix("/api").Subrouter()
	private.Use(s.authMiddleware)

	private.HandleFunc("/me", s.meHandler).Methods(http.MethodGet)
	private.HandleFunc("/me", s.updateProfileHandler).Methods(http.MethodPost)
	private.HandleFunc("/me/photo", s.photoHandler).Methods(http.MethodGet)

	private.HandleFunc("/exams", s.listExamsHandler).Methods(http.MethodGet)
	private.HandleFunc("/exams", s.uploadExamHandler).Methods(http.MethodPost)
	private.HandleFunc("/exams/{id}", s.getExamHandler).Methods(http.MethodGet)
	private.HandleFunc("/exams/{id}", s.deleteExamHandler).Methods(http.MethodDelete)
	private.HandleFunc("/exams/{id}/file", s.examFileHandler).Methods(http.MethodGet)
	private.HandleFunc("/exams/{id}/forward", s.forwardExamHandler).Methods(http.MethodPost)
	refuseOtherMethods(private, "/me", "/me/photo", "/exams", "/exams/{id}", "/exams/{id}/file", "/exams/{id}/forward")

	admin := private.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/users", s.listUsersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.createUserHandler).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.updateUserHandler).Methods(http.MethodPatch)
	refuseOtherMethods(admin, "/users", "/users/{id}")

	return CanonicalRedirect(s.opts.CanonicalURL, s.opts.LegacyHostSuffix)(r)
}

// refuseOtherMethods answers 405 on paths whose method-specific routes did not
// match. It must follow those routes. Nested subrouters drop the method
// mismatch once a sibling route matches the prefix, so the router-level 405
// handler is not reached for them.
func refuseOtherMethods(r *mux.Router, paths ...string) {
	for _, p := range paths {
		r.HandleFunc(p, methodNotAllowedHandler)
	}
}

func methodNotAllowedHandler(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, ErrMethodNotAllowed)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
