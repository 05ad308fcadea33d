// Package validate collects per-field input errors.
package validate

import (
	"errors"
	"net/mail"
	"regexp"
	"sort"
	"strings"
)

// Error carries messages keyed by form field
type Error struct {
	Fields map[string][]string
}

// New returns an empty Error
func New() *Error {
	return &Error{Fields: make(map[string][]string)}
}

// Add records msg against field
func (e *Error) Add(field, msg string) {
	e.Fields[field] = append(e.Fields[field], msg)
}

// Has reports whether field has at least one message
func (e *Error) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// Err returns e when any message was recorded, nil otherwise
func (e *Error) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Field returns a single-field Error
func Field(field, msg string) error {
	e := New()
	e.Add(field, msg)
	return e
}

// As extracts an *Error from err
func As(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var phonePattern = regexp.MustCompile(`^\(\d{2}\)\s?\d{4,5}-\d{4}$`)

// Phone reports whether s is a Brazilian phone like "(11) 91234-5678"
func Phone(s string) bool {
	return phonePattern.MatchString(s)
}

// Email reports whether s is a bare, syntactically valid address
func Email(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
