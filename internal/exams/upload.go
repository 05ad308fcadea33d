package exams

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lumavet.pet/lumavet/internal/examfile"
	"lumavet.pet/lumavet/internal/validate"
)

// Form field names
const (
	FieldClinicOrVet  = "clinic_or_vet"
	FieldTutorPhone   = "tutor_phone"
	FieldTutorEmail   = "tutor_email"
	FieldObservations = "observations"
	FieldReturnDate   = "return_date"
	FieldPDF          = "pdf_file"
)

const maxTextLength = 255

// UploadForm holds the text fields of the upload form
type UploadForm struct {
	ClinicOrVet  string `schema:"clinic_or_vet"`
	TutorPhone   string `schema:"tutor_phone"`
	TutorEmail   string `schema:"tutor_email"`
	Observations string `schema:"observations"`
	ReturnDate   string `schema:"return_date"`
}

// Upload is a submitted form with the PDF it carries
type Upload struct {
	Form     UploadForm
	FileName string
	Content  []byte
}

type validUpload struct {
	clinicOrVet  string
	tutorPhone   string
	tutorEmail   string
	observations string
	returnDate   *time.Time
	parsed       examfile.Parsed
	pages        int
}

// validate checks every field and reports all problems at once
func (up Upload) validate(maxSize int64) (*validUpload, error) {
	verr := validate.New()
	out := &validUpload{
		clinicOrVet:  strings.TrimSpace(up.Form.ClinicOrVet),
		tutorPhone:   strings.TrimSpace(up.Form.TutorPhone),
		tutorEmail:   strings.TrimSpace(up.Form.TutorEmail),
		observations: strings.TrimSpace(up.Form.Observations),
	}

	switch {
	case out.clinicOrVet == "":
		verr.Add(FieldClinicOrVet, "this field is required")
	case utf8.RuneCountInString(out.clinicOrVet) > maxTextLength:
		verr.Add(FieldClinicOrVet, fmt.Sprintf("must have at most %d characters", maxTextLength))
	}

	if out.tutorPhone != "" && !validate.Phone(out.tutorPhone) {
		verr.Add(FieldTutorPhone, "use the format (11) 91234-5678")
	}

	if out.tutorEmail != "" {
		if utf8.RuneCountInString(out.tutorEmail) > maxTextLength || !validate.Email(out.tutorEmail) {
			verr.Add(FieldTutorEmail, "enter a valid email address")
		}
	}

	if rd := strings.TrimSpace(up.Form.ReturnDate); rd != "" {
		d, err := time.Parse(ReturnDateLayout, rd)
		if err != nil {
			verr.Add(FieldReturnDate, "use the format YYYY-MM-DD")
		} else {
			out.returnDate = &d
		}
	}

	out.parsed, out.pages = validateFile(verr, up, maxSize)

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateFile(verr *validate.Error, up Upload, maxSize int64) (examfile.Parsed, int) {
	if up.FileName == "" && len(up.Content) == 0 {
		verr.Add(FieldPDF, "this field is required")
		return examfile.Parsed{}, 0
	}

	parsed, err := examfile.Parse(up.FileName)
	if err != nil {
		verr.Add(FieldPDF, filenameMessage(err))
		return examfile.Parsed{}, 0
	}

	if int64(len(up.Content)) > maxSize {
		verr.Add(FieldPDF, fmt.Sprintf("file is larger than %d MiB", maxSize>>20))
		return examfile.Parsed{}, 0
	}
	if len(up.Content) == 0 {
		verr.Add(FieldPDF, "the submitted file is empty")
		return examfile.Parsed{}, 0
	}

	pages, err := examfile.Inspect(up.Content)
	if err != nil {
		verr.Add(FieldPDF, "the file is not a readable PDF")
		return examfile.Parsed{}, 0
	}
	return parsed, pages
}

func filenameMessage(err error) string {
	switch {
	case errors.Is(err, examfile.ErrNotPDF):
		return "file must be a PDF"
	case errors.Is(err, examfile.ErrSegmentCount), errors.Is(err, examfile.ErrPrefix), errors.Is(err, examfile.ErrEmptyField):
		return "file name must follow: Laudo <Pet> <Breed> <Tutor> <ExamType> <DD.MM.YYYY>.pdf"
	case errors.Is(err, examfile.ErrDate):
		return "invalid date in file name, use DD.MM.YYYY"
	}
	return err.Error()
}
