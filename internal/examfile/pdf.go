package examfile

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dslipak/pdf"
)

var ErrInvalidPDF = errors.New("file is not a readable PDF document")

var pdfMagic = []byte("%PDF-")

// Inspect checks that content is a readable PDF and returns its page count
func Inspect(content []byte) (pages int, err error) {
	if !bytes.HasPrefix(content, pdfMagic) {
		return 0, fmt.Errorf("%w: missing %%PDF- header", ErrInvalidPDF)
	}

	// The reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	pages = r.NumPage()
	if pages < 1 {
		return 0, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
	}
	return pages, nil
}
