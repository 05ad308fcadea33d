// Package registry resolves the tutor, pet, clinic, veterinarian and tutor
// account behind an uploaded exam, creating whatever is missing. Resolution
// is idempotent: processing the same submission twice yields the same
// records, and existing contact data is only ever backfilled.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/examfile"
	"lumavet.pet/lumavet/internal/store"
)

// Backend is what the registry needs from storage
type Backend interface {
	store.RegistryStore
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Submission is one upload: the parsed filename plus the form contact fields
type Submission struct {
	File        examfile.Parsed
	ClinicOrVet string
	TutorEmail  string
	TutorPhone  string
	Uploader    *domain.User
}

// Result lists the resolved records and what was created along the way
type Result struct {
	Tutor        *domain.Tutor
	Pet          *domain.Pet
	Clinic       *domain.Clinic
	Veterinarian *domain.Veterinarian
	TutorUser    *domain.User

	TutorCreated     bool
	PetCreated       bool
	TutorUserCreated bool
}

// Registry performs the lookups and upserts
type Registry struct {
	backend Backend
	now     func() time.Time
}

// New creates a registry over backend
func New(backend Backend) *Registry {
	return &Registry{backend: backend, now: time.Now}
}

// Resolve finds or creates every record referenced by sub
func (r *Registry) Resolve(ctx context.Context, sub Submission) (*Result, error) {
	res := &Result{}
	var err error

	res.Tutor, res.TutorCreated, err = r.resolveTutor(ctx, sub.File.TutorName, sub.TutorEmail, sub.TutorPhone)
	if err != nil {
		return nil, fmt.Errorf("resolve tutor: %w", err)
	}

	res.Pet, res.PetCreated, err = r.resolvePet(ctx, res.Tutor.ID, sub.File.PetName, sub.File.Breed)
	if err != nil {
		return nil, fmt.Errorf("resolve pet: %w", err)
	}

	res.Clinic, err = r.resolveClinic(ctx, sub.ClinicOrVet)
	if err != nil {
		return nil, fmt.Errorf("resolve clinic: %w", err)
	}

	if sub.Uploader != nil && sub.Uploader.Role == domain.RoleBasic {
		res.Veterinarian, err = r.resolveVeterinarian(ctx, sub.Uploader, res.Clinic)
		if err != nil {
			return nil, fmt.Errorf("resolve veterinarian: %w", err)
		}
	}

	res.TutorUser, res.TutorUserCreated, err = r.resolveTutorUser(ctx, res.Tutor)
	if err != nil {
		return nil, fmt.Errorf("resolve tutor user: %w", err)
	}

	log.Debug().
		Str("tutor_id", res.Tutor.ID).
		Bool("tutor_created", res.TutorCreated).
		Str("pet_id", res.Pet.ID).
		Bool("pet_created", res.PetCreated).
		Str("clinic_id", res.Clinic.ID).
		Bool("tutor_user_created", res.TutorUserCreated).
		Msg("Exam entities resolved")

	return res, nil
}

func (r *Registry) resolveTutor(ctx context.Context, name, email, phone string) (*domain.Tutor, bool, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)

	tutor, err := r.backend.FindTutorByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		now := r.now().UTC()
		tutor = &domain.Tutor{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     email,
			Phone:     phone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = r.backend.CreateTutor(ctx, tutor)
		if err == nil {
			return tutor, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, err
		}
		// Lost a race with a concurrent upload for the same tutor
		tutor, err = r.backend.FindTutorByName(ctx, name)
	}
	if err != nil {
		return nil, false, err
	}

	if email == "" && phone == "" {
		return tutor, false, nil
	}
	// The merge runs against the stored record, so a concurrent backfill of
	// the other field is kept
	tutor, err = r.backend.UpdateTutor(ctx, tutor.Name, func(t *domain.Tutor) bool {
		if !backfillTutor(t, email, phone) {
			return false
		}
		t.UpdatedAt = r.now().UTC()
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return tutor, false, nil
}

// backfillTutor fills blank contact fields and never overwrites a recorded value
func backfillTutor(t *domain.Tutor, email, phone string) bool {
	changed := false
	if t.Email == "" && email != "" {
		t.Email = email
		changed = true
	}
	if t.Phone == "" && phone != "" {
		t.Phone = phone
		changed = true
	}
	return changed
}

func (r *Registry) resolvePet(ctx context.Context, tutorID, name, breed string) (*domain.Pet, bool, error) {
	name = strings.TrimSpace(name)
	breed = strings.TrimSpace(breed)

	pet, err := r.backend.FindPet(ctx, tutorID, name)
	if errors.Is(err, store.ErrNotFound) {
		now := r.now().UTC()
		stored := breed
		if domain.IsUnknownBreed(stored) {
			stored = domain.UnknownBreed
		}
		pet = &domain.Pet{
			ID:        uuid.NewString(),
			Name:      name,
			Breed:     stored,
			TutorID:   tutorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = r.backend.CreatePet(ctx, pet)
		if err == nil {
			return pet, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, err
		}
		pet, err = r.backend.FindPet(ctx, tutorID, name)
	}
	if err != nil {
		return nil, false, err
	}

	if domain.IsUnknownBreed(breed) || !pet.HasUnknownBreed() {
		return pet, false, nil
	}
	pet, err = r.backend.UpdatePet(ctx, tutorID, pet.Name, func(p *domain.Pet) bool {
		if !upgradeBreed(p, breed) {
			return false
		}
		p.UpdatedAt = r.now().UTC()
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return pet, false, nil
}

// upgradeBreed replaces the SRD placeholder with a specific breed; a specific
// breed already on record is preserved
func upgradeBreed(p *domain.Pet, breed string) bool {
	if !p.HasUnknownBreed() || domain.IsUnknownBreed(breed) {
		return false
	}
	p.Breed = breed
	return true
}

func (r *Registry) resolveClinic(ctx context.Context, name string) (*domain.Clinic, error) {
	name = strings.TrimSpace(name)

	clinic, err := r.backend.FindClinicByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		clinic = &domain.Clinic{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: r.now().UTC(),
		}
		err = r.backend.CreateClinic(ctx, clinic)
		if err == nil {
			return clinic, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		clinic, err = r.backend.FindClinicByName(ctx, name)
	}
	return clinic, err
}

func (r *Registry) resolveVeterinarian(ctx context.Context, uploader *domain.User, clinic *domain.Clinic) (*domain.Veterinarian, error) {
	vet, err := r.backend.FindVeterinarian(ctx, uploader.ID, clinic.ID)
	if errors.Is(err, store.ErrNotFound) {
		name := uploader.FirstName
		if name == "" {
			name = uploader.Username
		}
		vet = &domain.Veterinarian{
			ID:        uuid.NewString(),
			UserID:    uploader.ID,
			ClinicID:  clinic.ID,
			Name:      name,
			CreatedAt: r.now().UTC(),
		}
		err = r.backend.CreateVeterinarian(ctx, vet)
		if err == nil {
			return vet, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		vet, err = r.backend.FindVeterinarian(ctx, uploader.ID, clinic.ID)
	}
	return vet, err
}

// resolveTutorUser links the tutor to a login account. Tutors without an
// email get none; an existing account with the same email is reused;
// otherwise an inactive TUTOR account without a password is created.
func (r *Registry) resolveTutorUser(ctx context.Context, tutor *domain.Tutor) (*domain.User, bool, error) {
	if tutor.UserID != "" {
		u, err := r.backend.GetUser(ctx, tutor.UserID)
		if err == nil {
			return u, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}
	if tutor.Email == "" {
		return nil, false, nil
	}

	created := false
	u, err := r.backend.GetUserByEmail(ctx, tutor.Email)
	if errors.Is(err, store.ErrNotFound) {
		now := r.now().UTC()
		u = &domain.User{
			ID:        uuid.NewString(),
			Username:  strings.ToLower(tutor.Email),
			Email:     tutor.Email,
			FirstName: tutor.Name,
			Role:      domain.RoleTutor,
			Active:    false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = r.backend.CreateUser(ctx, u)
		if err == nil {
			created = true
		} else if errors.Is(err, store.ErrConflict) {
			u, err = r.backend.GetUserByEmail(ctx, tutor.Email)
			if errors.Is(err, store.ErrNotFound) {
				// The username is held by an account with a different email
				log.Warn().
					Str("tutor_id", tutor.ID).
					Msg("Tutor account username already taken, tutor left without login")
				return nil, false, nil
			}
		}
	}
	if err != nil {
		return nil, false, err
	}

	stored, err := r.backend.UpdateTutor(ctx, tutor.Name, func(t *domain.Tutor) bool {
		if t.UserID != "" {
			return false
		}
		t.UserID = u.ID
		t.UpdatedAt = r.now().UTC()
		return true
	})
	if err != nil {
		return nil, false, err
	}
	*tutor = *stored
	if stored.UserID != u.ID {
		// A concurrent upload linked the tutor first
		linked, err := r.backend.GetUser(ctx, stored.UserID)
		if err != nil {
			return nil, false, err
		}
		return linked, false, nil
	}
	return u, created, nil
}
