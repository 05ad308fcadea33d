package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"lumavet.pet/lumavet/internal/accounts"
)

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req accounts.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	u, err := s.accounts.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(u))
}

func (s *Server) updateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req accounts.AdminUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	u, err := s.accounts.UpdateUser(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}
