package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/exams"
)

// ForwardRequest names the account an exam is shared with
type ForwardRequest struct {
	Email string `json:"email"`
}

func (s *Server) uploadExamHandler(w http.ResponseWriter, r *http.Request) {
	maxSize := s.exams.MaxUploadSize()
	// Leave room for the text fields and a slightly oversized file, which is
	// reported as a field error rather than a transport error
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, ErrInvalidForm)
		return
	}

	var up exams.Upload
	if err := s.decoder.Decode(&up.Form, r.MultipartForm.Value); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidForm)
		return
	}

	file, header, err := r.FormFile(FieldPDF)
	switch {
	case err == nil:
		defer file.Close()
		up.FileName = header.Filename
		up.Content, err = io.ReadAll(io.LimitReader(file, maxSize+1))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
	case errors.Is(err, http.ErrMissingFile):
		// Reported by validation
	default:
		writeError(w, http.StatusBadRequest, ErrInvalidForm)
		return
	}

	res, err := s.exams.Upload(r.Context(), caller(r), up)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listExamsHandler(w http.ResponseWriter, r *http.Request) {
	var params exams.ListParams
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidQuery)
		return
	}

	page, err := s.exams.List(r.Context(), caller(r), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getExamHandler(w http.ResponseWriter, r *http.Request) {
	exam, err := s.exams.Get(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (s *Server) examFileHandler(w http.ResponseWriter, r *http.Request) {
	exam, file, err := s.exams.OpenFile(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": exam.FileName}))
	log.Debug().Str("exam_id", exam.ID).Str("user_id", caller(r).ID).Msg("Serving exam file")
	http.ServeContent(w, r, exam.FileName, exam.CreatedAt, file)
}

func (s *Server) deleteExamHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.exams.Delete(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forwardExamHandler(w http.ResponseWriter, r *http.Request) {
	var req ForwardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	res, err := s.exams.Forward(r.Context(), caller(r), mux.Vars(r)["id"], req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
