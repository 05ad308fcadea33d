// Package examfile parses and builds exam report filenames of the form
//
//	Laudo <Pet> <Breed> <Tutor> <ExamType> <DD.MM.YYYY>.pdf
//
// Fields are separated by single spaces; an underscore inside a field stands
// for a literal space.
package examfile

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// Prefix is the mandatory first token of every exam filename
	Prefix = "Laudo"
	// Extension is matched case-insensitively
	Extension = ".pdf"
	// DateLayout is the DD.MM.YYYY layout of the last token
	DateLayout = "02.01.2006"

	segmentCount = 6
)

var (
	ErrNotPDF       = errors.New("file must be a PDF (.pdf)")
	ErrSegmentCount = errors.New("filename must have the form 'Laudo Pet Breed Tutor ExamType DD.MM.YYYY.pdf'")
	ErrPrefix       = errors.New("filename must start with 'Laudo'")
	ErrEmptyField   = errors.New("filename has an empty field")
	ErrDate         = errors.New("invalid date in filename")
)

// Parsed holds the fields decoded from an exam filename
type Parsed struct {
	PetName     string    `json:"pet_name"`
	Breed       string    `json:"breed"`
	TutorName   string    `json:"tutor_name"`
	ExamType    string    `json:"exam_type"`
	PerformedOn time.Time `json:"performed_on"`
}

// Parse decodes name. Any directory part (including Windows style
// "C:\fakepath\") is ignored.
func Parse(name string) (Parsed, error) {
	base := baseName(name)

	if len(base) < len(Extension) || !strings.EqualFold(base[len(base)-len(Extension):], Extension) {
		return Parsed{}, fmt.Errorf("%w: %q", ErrNotPDF, base)
	}
	stem := base[:len(base)-len(Extension)]

	parts := strings.Split(stem, " ")
	if len(parts) != segmentCount {
		return Parsed{}, fmt.Errorf("%w: got %d segments in %q", ErrSegmentCount, len(parts), base)
	}
	if parts[0] != Prefix {
		return Parsed{}, fmt.Errorf("%w: %q", ErrPrefix, base)
	}
	for i, p := range parts {
		if p == "" {
			return Parsed{}, fmt.Errorf("%w: segment %d of %q", ErrEmptyField, i+1, base)
		}
	}

	performedOn, err := ParseDate(parts[5])
	if err != nil {
		return Parsed{}, err
	}

	fields := make([]string, 4)
	for i := range fields {
		fields[i] = decodeField(parts[i+1])
		if fields[i] == "" {
			return Parsed{}, fmt.Errorf("%w: segment %d of %q", ErrEmptyField, i+2, base)
		}
	}

	return Parsed{
		PetName:     fields[0],
		Breed:       fields[1],
		TutorName:   fields[2],
		ExamType:    fields[3],
		PerformedOn: performedOn,
	}, nil
}

// ParseDate strictly parses a DD.MM.YYYY date. time.Parse already rejects
// impossible days such as 31.02; the length check rejects single digit
// day or month forms. Year 0000 has no calendar date and is rejected.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDate, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil || t.Year() < 1 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDate, s)
	}
	return t, nil
}

// Format builds the canonical filename for p; it is the inverse of Parse
func Format(p Parsed) string {
	return strings.Join([]string{
		Prefix,
		encodeField(p.PetName),
		encodeField(p.Breed),
		encodeField(p.TutorName),
		encodeField(p.ExamType),
		p.PerformedOn.Format(DateLayout),
	}, " ") + Extension
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return path.Base(name)
}

func decodeField(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}

func encodeField(s string) string {
	return strings.Join(strings.Fields(s), "_")
}
