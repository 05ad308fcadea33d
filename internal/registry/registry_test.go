package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/examfile"
	"lumavet.pet/lumavet/internal/store"
)

func parsed(t *testing.T, name string) examfile.Parsed {
	t.Helper()
	p, err := examfile.Parse(name)
	require.NoError(t, err)
	return p
}

func basicUser() *domain.User {
	return &domain.User{ID: "vet-1", Username: "ana", FirstName: "Ana", Role: domain.RoleBasic, Active: true}
}

func TestResolveSameFilenameTwiceDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := New(mem)

	sub := Submission{
		File:        parsed(t, "Laudo Rex Labrador Maria Hemograma 05.03.2024.pdf"),
		ClinicOrVet: "Clinica Sol",
		TutorEmail:  "maria@example.com",
		TutorPhone:  "(11) 91234-5678",
		Uploader:    basicUser(),
	}

	first, err := reg.Resolve(ctx, sub)
	require.NoError(t, err)
	assert.True(t, first.TutorCreated)
	assert.True(t, first.PetCreated)
	assert.True(t, first.TutorUserCreated)

	second, err := reg.Resolve(ctx, sub)
	require.NoError(t, err)
	assert.False(t, second.TutorCreated)
	assert.False(t, second.PetCreated)
	assert.False(t, second.TutorUserCreated)

	assert.Equal(t, first.Tutor.ID, second.Tutor.ID)
	assert.Equal(t, first.Pet.ID, second.Pet.ID)
	assert.Equal(t, first.Clinic.ID, second.Clinic.ID)
	assert.Equal(t, first.Veterinarian.ID, second.Veterinarian.ID)
	assert.Equal(t, first.TutorUser.ID, second.TutorUser.ID)

	tutors, pets := mem.Counts()
	assert.Equal(t, 1, tutors)
	assert.Equal(t, 1, pets)

	users, err := mem.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestResolveLookupsAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := New(mem)

	a, err := reg.Resolve(ctx, Submission{
		File:        parsed(t, "Laudo Rex Labrador Maria_Silva Hemograma 05.03.2024.pdf"),
		ClinicOrVet: "Clinica Sol",
	})
	require.NoError(t, err)

	b, err := reg.Resolve(ctx, Submission{
		File:        parsed(t, "Laudo REX Labrador MARIA_SILVA Urina 06.03.2024.pdf"),
		ClinicOrVet: "CLINICA SOL",
	})
	require.NoError(t, err)

	assert.Equal(t, a.Tutor.ID, b.Tutor.ID)
	assert.Equal(t, a.Pet.ID, b.Pet.ID)
	assert.Equal(t, a.Clinic.ID, b.Clinic.ID)
	assert.Equal(t, "Maria Silva", b.Tutor.Name, "first spelling is kept")
}

func TestResolveSamePetNameDifferentTutor(t *testing.T) {
	ctx := context.Background()
	reg := New(store.NewMemory())

	a, err := reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Rex SRD Maria Hemograma 05.03.2024.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	b, err := reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Rex SRD Joao Hemograma 05.03.2024.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Pet.ID, b.Pet.ID)
	assert.True(t, b.PetCreated)
}

func TestResolveBackfillsButNeverOverwritesContact(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := New(mem)
	file := parsed(t, "Laudo Rex Labrador Maria Hemograma 05.03.2024.pdf")

	_, err := reg.Resolve(ctx, Submission{File: file, ClinicOrVet: "X", TutorPhone: "(11) 91234-5678"})
	require.NoError(t, err)

	// Blank phone must not erase the recorded one; blank email gets backfilled
	res, err := reg.Resolve(ctx, Submission{File: file, ClinicOrVet: "X", TutorEmail: "maria@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", res.Tutor.Phone)
	assert.Equal(t, "maria@example.com", res.Tutor.Email)

	// Different non-blank values never overwrite
	res, err = reg.Resolve(ctx, Submission{File: file, ClinicOrVet: "X", TutorEmail: "other@example.com", TutorPhone: "(21) 3333-4444"})
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", res.Tutor.Phone)
	assert.Equal(t, "maria@example.com", res.Tutor.Email)

	stored, err := mem.FindTutorByName(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", stored.Phone)
	assert.Equal(t, "maria@example.com", stored.Email)
}

func TestResolveBreedPlaceholder(t *testing.T) {
	ctx := context.Background()
	reg := New(store.NewMemory())

	res, err := reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Mia SRD Joao Urina 01.12.2023.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownBreed, res.Pet.Breed)

	// Another SRD upload keeps the placeholder
	res, err = reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Mia srd Joao Urina 02.12.2023.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownBreed, res.Pet.Breed)

	// A specific breed replaces SRD
	res, err = reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Mia Siames Joao Urina 03.12.2023.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	assert.Equal(t, "Siames", res.Pet.Breed)

	// A specific breed is never downgraded or replaced
	res, err = reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Mia SRD Joao Urina 04.12.2023.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	assert.Equal(t, "Siames", res.Pet.Breed)

	res, err = reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Mia Persa Joao Urina 05.12.2023.pdf"), ClinicOrVet: "X"})
	require.NoError(t, err)
	assert.Equal(t, "Siames", res.Pet.Breed)
}

func TestResolveTutorUser(t *testing.T) {
	ctx := context.Background()

	t.Run("No email means no account", func(t *testing.T) {
		reg := New(store.NewMemory())
		res, err := reg.Resolve(ctx, Submission{File: parsed(t, "Laudo Rex SRD Maria Hemograma 05.03.2024.pdf"), ClinicOrVet: "X"})
		require.NoError(t, err)
		assert.Nil(t, res.TutorUser)
		assert.Empty(t, res.Tutor.UserID)
	})

	t.Run("Created inactive without password", func(t *testing.T) {
		reg := New(store.NewMemory())
		res, err := reg.Resolve(ctx, Submission{
			File:        parsed(t, "Laudo Rex SRD Maria Hemograma 05.03.2024.pdf"),
			ClinicOrVet: "X",
			TutorEmail:  "Maria@Example.com",
		})
		require.NoError(t, err)
		require.NotNil(t, res.TutorUser)
		assert.True(t, res.TutorUserCreated)
		assert.Equal(t, domain.RoleTutor, res.TutorUser.Role)
		assert.False(t, res.TutorUser.Active)
		assert.False(t, res.TutorUser.HasUsablePassword())
		assert.Equal(t, "maria@example.com", res.TutorUser.Username)
		assert.Equal(t, res.TutorUser.ID, res.Tutor.UserID)
	})

	t.Run("Existing account with same email is linked", func(t *testing.T) {
		mem := store.NewMemory()
		existing := &domain.User{ID: "u-existing", Username: "maria", Email: "maria@example.com", Role: domain.RoleTutor, Active: true, PasswordHash: "x"}
		require.NoError(t, mem.CreateUser(ctx, existing))

		reg := New(mem)
		res, err := reg.Resolve(ctx, Submission{
			File:        parsed(t, "Laudo Rex SRD Maria Hemograma 05.03.2024.pdf"),
			ClinicOrVet: "X",
			TutorEmail:  "MARIA@example.com",
		})
		require.NoError(t, err)
		require.NotNil(t, res.TutorUser)
		assert.False(t, res.TutorUserCreated)
		assert.Equal(t, "u-existing", res.TutorUser.ID)
	})
}

func TestResolveVeterinarianOnlyForBasicUploader(t *testing.T) {
	ctx := context.Background()
	reg := New(store.NewMemory())
	file := parsed(t, "Laudo Rex SRD Maria Hemograma 05.03.2024.pdf")

	res, err := reg.Resolve(ctx, Submission{File: file, ClinicOrVet: "Clinica Sol", Uploader: basicUser()})
	require.NoError(t, err)
	require.NotNil(t, res.Veterinarian)
	assert.Equal(t, "vet-1", res.Veterinarian.UserID)
	assert.Equal(t, res.Clinic.ID, res.Veterinarian.ClinicID)
	assert.Equal(t, "Ana", res.Veterinarian.Name)

	admin := &domain.User{ID: "adm", Username: "root", Role: domain.RoleAdmin, Active: true}
	res, err = reg.Resolve(ctx, Submission{File: file, ClinicOrVet: "Clinica Sol", Uploader: admin})
	require.NoError(t, err)
	assert.Nil(t, res.Veterinarian)
}

func TestResolveConcurrentUploads(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := New(mem)
	reg.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	sub := Submission{
		File:        parsed(t, "Laudo Rex Labrador Maria Hemograma 05.03.2024.pdf"),
		ClinicOrVet: "Clinica Sol",
		TutorEmail:  "maria@example.com",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolve(ctx, sub)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tutors, pets := mem.Counts()
	assert.Equal(t, 1, tutors)
	assert.Equal(t, 1, pets)
}

// lockstepBackend holds every tutor lookup until all expected callers have
// read, so concurrent uploads all start from the same stored tutor
type lockstepBackend struct {
	*store.Memory
	arrived sync.WaitGroup
}

func (b *lockstepBackend) FindTutorByName(ctx context.Context, name string) (*domain.Tutor, error) {
	t, err := b.Memory.FindTutorByName(ctx, name)
	b.arrived.Done()
	b.arrived.Wait()
	return t, err
}

func TestResolveConcurrentBackfillKeepsBothFields(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	file := parsed(t, "Laudo Rex Labrador Maria Hemograma 05.03.2024.pdf")

	_, err := New(mem).Resolve(ctx, Submission{File: file, ClinicOrVet: "X"})
	require.NoError(t, err)

	backend := &lockstepBackend{Memory: mem}
	backend.arrived.Add(2)
	reg := New(backend)

	subs := []Submission{
		{File: file, ClinicOrVet: "X", TutorPhone: "(11) 91234-5678"},
		{File: file, ClinicOrVet: "X", TutorEmail: "maria@example.com"},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(subs))
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolve(ctx, sub)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := mem.FindTutorByName(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", stored.Phone)
	assert.Equal(t, "maria@example.com", stored.Email)
}
