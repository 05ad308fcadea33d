package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/accounts"
)

// profileForm is the multipart profile form; absent keys stay nil
type profileForm struct {
	FirstName   *string `schema:"first_name"`
	Email       *string `schema:"email"`
	Whatsapp    *string `schema:"whatsapp"`
	NewPassword string  `schema:"new_password"`
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	me, err := s.accounts.Me(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMeView(me))
}

func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, ErrInvalidForm)
			return
		}
		// Plain url-encoded forms carry no photo
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, ErrInvalidForm)
			return
		}
	}

	var form profileForm
	if err := s.decoder.Decode(&form, r.PostForm); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidForm)
		return
	}

	upd := accounts.ProfileUpdate{
		FirstName:   form.FirstName,
		Email:       form.Email,
		Whatsapp:    form.Whatsapp,
		NewPassword: form.NewPassword,
	}
	if r.MultipartForm != nil {
		if file, header, err := r.FormFile(FieldPhoto); err == nil {
			defer file.Close()
			upd.Photo = file
			upd.PhotoName = header.Filename
		}
	}

	me, sess, err := s.accounts.UpdateProfile(r.Context(), caller(r), upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	view := newMeView(me)
	if sess != nil {
		s.setSessionCookie(w, sess)
		view.Token = sess.Token
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) photoHandler(w http.ResponseWriter, r *http.Request) {
	rc, name, err := s.accounts.OpenPhoto(r.Context(), caller(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("photo", name).Msg("Failed to stream profile photo")
	}
}
