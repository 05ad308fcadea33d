// Package store defines the persistence contract shared by the Couchbase and
// in-memory backends.
package store

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"

	"lumavet.pet/lumavet/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// UserStore persists accounts and profiles. Username and email lookups are
// case-insensitive.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	ListUsers(ctx context.Context) ([]*domain.User, error)

	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	SaveProfile(ctx context.Context, p *domain.Profile) error
}

// RegistryStore persists the entities resolved from exam filenames. Create
// methods return ErrConflict when a record with the same natural key exists.
//
// Update methods read the current record, apply mutate and write the result
// atomically with respect to other writers. mutate may run more than once
// when writes interleave. Returning false skips the write, and mutate must
// then leave the record unchanged. The stored record is returned.
type RegistryStore interface {
	FindTutorByName(ctx context.Context, name string) (*domain.Tutor, error)
	CreateTutor(ctx context.Context, t *domain.Tutor) error
	UpdateTutor(ctx context.Context, name string, mutate func(*domain.Tutor) bool) (*domain.Tutor, error)

	FindPet(ctx context.Context, tutorID, name string) (*domain.Pet, error)
	CreatePet(ctx context.Context, p *domain.Pet) error
	UpdatePet(ctx context.Context, tutorID, name string, mutate func(*domain.Pet) bool) (*domain.Pet, error)

	FindClinicByName(ctx context.Context, name string) (*domain.Clinic, error)
	CreateClinic(ctx context.Context, c *domain.Clinic) error

	FindVeterinarian(ctx context.Context, userID, clinicID string) (*domain.Veterinarian, error)
	CreateVeterinarian(ctx context.Context, v *domain.Veterinarian) error
}

// ExamQuery filters ListExams. An empty VisibleTo means every exam.
type ExamQuery struct {
	VisibleTo string
	Search    string
	ExamType  string
	Offset    int
	Limit     int
}

// ExamStore persists exams and their view permissions
type ExamStore interface {
	CreateExam(ctx context.Context, e *domain.Exam) error
	GetExam(ctx context.Context, id string) (*domain.Exam, error)
	DeleteExam(ctx context.Context, id string) error
	ListExams(ctx context.Context, q ExamQuery) ([]*domain.Exam, error)

	// GrantPermission is idempotent
	GrantPermission(ctx context.Context, p *domain.ExamPermission) error
	HasPermission(ctx context.Context, examID, userID string) (bool, error)
	DeletePermissions(ctx context.Context, examID string) error
}

// Store is the full backend
type Store interface {
	UserStore
	RegistryStore
	ExamStore
	Close() error
}

// NormalizeKey is the natural key used for case-insensitive lookups:
// trimmed, inner whitespace collapsed, Unicode case folded
func NormalizeKey(s string) string {
	// Casers carry state and are not shared between goroutines
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// MatchesSearch reports whether e matches the free-text search and exam type
// filters of q
func MatchesSearch(e *domain.Exam, q ExamQuery) bool {
	if q.ExamType != "" && !strings.EqualFold(strings.TrimSpace(q.ExamType), e.ExamType) {
		return false
	}
	needle := NormalizeKey(q.Search)
	if needle == "" {
		return true
	}
	for _, hay := range []string{e.PetName, e.TutorName, e.ClinicOrVet, e.ExamType} {
		if strings.Contains(NormalizeKey(hay), needle) {
			return true
		}
	}
	return false
}
