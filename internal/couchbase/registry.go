package couchbase

import (
	"context"
	"errors"
	"fmt"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/store"
)

func tutorKey(name string) string {
	return docKey(store.NormalizeKey(name))
}

func petKey(tutorID, name string) string {
	return docKey(tutorID, store.NormalizeKey(name))
}

func clinicKey(name string) string {
	return docKey(store.NormalizeKey(name))
}

func vetKey(userID, clinicID string) string {
	return docKey(userID, clinicID)
}

func (s *Store) FindTutorByName(ctx context.Context, name string) (*domain.Tutor, error) {
	var t domain.Tutor
	if _, err := s.docs(colTutors).get(ctx, tutorKey(name), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTutor(ctx context.Context, t *domain.Tutor) error {
	return s.docs(colTutors).insert(ctx, tutorKey(t.Name), t)
}

// maxCASRetries bounds optimistic update attempts on a contended document
const maxCASRetries = 10

// casUpdate reads key, applies mutate and replaces the document at the CAS
// it was read with. A concurrent write makes it re-read and re-apply.
func casUpdate[T any](ctx context.Context, docs documents, key string, mutate func(*T) bool) (*T, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		v := new(T)
		cas, err := docs.get(ctx, key, v)
		if err != nil {
			return nil, err
		}
		if !mutate(v) {
			return v, nil
		}
		err = docs.replace(ctx, key, v, cas)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update %s: gave up after %d concurrent writes: %w", key, maxCASRetries, store.ErrConflict)
}

func (s *Store) UpdateTutor(ctx context.Context, name string, mutate func(*domain.Tutor) bool) (*domain.Tutor, error) {
	return casUpdate(ctx, s.docs(colTutors), tutorKey(name), mutate)
}

func (s *Store) FindPet(ctx context.Context, tutorID, name string) (*domain.Pet, error) {
	var p domain.Pet
	if _, err := s.docs(colPets).get(ctx, petKey(tutorID, name), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePet(ctx context.Context, p *domain.Pet) error {
	return s.docs(colPets).insert(ctx, petKey(p.TutorID, p.Name), p)
}

func (s *Store) UpdatePet(ctx context.Context, tutorID, name string, mutate func(*domain.Pet) bool) (*domain.Pet, error) {
	return casUpdate(ctx, s.docs(colPets), petKey(tutorID, name), mutate)
}

func (s *Store) FindClinicByName(ctx context.Context, name string) (*domain.Clinic, error) {
	var c domain.Clinic
	if _, err := s.docs(colClinics).get(ctx, clinicKey(name), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClinic(ctx context.Context, c *domain.Clinic) error {
	return s.docs(colClinics).insert(ctx, clinicKey(c.Name), c)
}

func (s *Store) FindVeterinarian(ctx context.Context, userID, clinicID string) (*domain.Veterinarian, error) {
	var v domain.Veterinarian
	if _, err := s.docs(colVeterinarians).get(ctx, vetKey(userID, clinicID), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) CreateVeterinarian(ctx context.Context, v *domain.Veterinarian) error {
	return s.docs(colVeterinarians).insert(ctx, vetKey(v.UserID, v.ClinicID), v)
}
