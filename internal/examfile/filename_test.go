package examfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumavet.pet/lumavet/internal/examfile/pdftest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Parsed
		wantErr error
	}{
		{
			name:  "Valid filename",
			input: "Laudo Rex Labrador Maria Hemograma 05.03.2024.pdf",
			want: Parsed{
				PetName:     "Rex",
				Breed:       "Labrador",
				TutorName:   "Maria",
				ExamType:    "Hemograma",
				PerformedOn: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "Underscores decode to spaces",
			input: "Laudo Rex_Jr Golden_Retriever Maria_da_Silva Raio_X 29.02.2024.pdf",
			want: Parsed{
				PetName:     "Rex Jr",
				Breed:       "Golden Retriever",
				TutorName:   "Maria da Silva",
				ExamType:    "Raio X",
				PerformedOn: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "Uppercase extension",
			input: "Laudo Mia SRD Joao Urina 01.12.2023.PDF",
			want: Parsed{
				PetName:     "Mia",
				Breed:       "SRD",
				TutorName:   "Joao",
				ExamType:    "Urina",
				PerformedOn: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "Browser fake path is stripped",
			input: `C:\fakepath\Laudo Mia SRD Joao Urina 01.12.2023.pdf`,
			want: Parsed{
				PetName:     "Mia",
				Breed:       "SRD",
				TutorName:   "Joao",
				ExamType:    "Urina",
				PerformedOn: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{name: "Not a PDF", input: "Laudo Rex Labrador Maria Hemograma 05.03.2024.docx", wantErr: ErrNotPDF},
		{name: "Empty name", input: "", wantErr: ErrNotPDF},
		{name: "Too few segments", input: "Laudo Rex Labrador Maria 05.03.2024.pdf", wantErr: ErrSegmentCount},
		{name: "Too many segments", input: "Laudo Rex Labrador Maria Silva Hemograma 05.03.2024.pdf", wantErr: ErrSegmentCount},
		{name: "Wrong prefix", input: "Exame Rex Labrador Maria Hemograma 05.03.2024.pdf", wantErr: ErrPrefix},
		{name: "Lowercase prefix", input: "laudo Rex Labrador Maria Hemograma 05.03.2024.pdf", wantErr: ErrPrefix},
		{name: "Double space yields empty field", input: "Laudo Rex  Maria Hemograma 05.03.2024.pdf", wantErr: ErrEmptyField},
		{name: "Underscore only field", input: "Laudo _ Labrador Maria Hemograma 05.03.2024.pdf", wantErr: ErrEmptyField},
		{name: "Impossible date", input: "Laudo Rex Labrador Maria Hemograma 31.02.2024.pdf", wantErr: ErrDate},
		{name: "Month out of range", input: "Laudo Rex Labrador Maria Hemograma 05.13.2024.pdf", wantErr: ErrDate},
		{name: "Single digit day", input: "Laudo Rex Labrador Maria Hemograma 5.03.2024.pdf", wantErr: ErrDate},
		{name: "Year zero", input: "Laudo Rex Labrador Maria Hemograma 01.02.0000.pdf", wantErr: ErrDate},
		{name: "ISO date rejected", input: "Laudo Rex Labrador Maria Hemograma 2024-03-05.pdf", wantErr: ErrDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	name := "Laudo Rex_Jr Golden_Retriever Maria_da_Silva Raio_X 29.02.2024.pdf"

	parsed, err := Parse(name)
	require.NoError(t, err)
	assert.Equal(t, name, Format(parsed))
}

func TestFormatCollapsesWhitespace(t *testing.T) {
	p := Parsed{
		PetName:     "  Rex   Jr ",
		Breed:       "SRD",
		TutorName:   "Ana",
		ExamType:    "Ultrassom",
		PerformedOn: time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "Laudo Rex_Jr SRD Ana Ultrassom 09.01.2025.pdf", Format(p))
}

func TestInspect(t *testing.T) {
	pages, err := Inspect(pdftest.Minimal(3))
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	_, err = Inspect([]byte("hello world"))
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = Inspect([]byte("%PDF-1.4\ngarbage"))
	assert.ErrorIs(t, err, ErrInvalidPDF)
}
