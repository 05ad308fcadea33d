package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumavet.pet/lumavet/internal/domain"
)

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "maria da silva", NormalizeKey("  Maria   DA  Silva "))
	assert.Equal(t, "joão", NormalizeKey("JOÃO"))
	assert.Equal(t, "", NormalizeKey("   "))
	assert.Equal(t, NormalizeKey("ΟΔΥΣΣΕΥΣ"), NormalizeKey("οδυσσευς"))
	assert.Equal(t, NormalizeKey("Σ"), NormalizeKey("ς"), "final sigma folds like sigma")
	assert.Equal(t, NormalizeKey("STRASSE"), NormalizeKey("straße"))
}

func TestMemoryUpdateTutorMergesUnderLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateTutor(ctx, &domain.Tutor{ID: "t1", Name: "Maria"}))

	_, err := m.UpdateTutor(ctx, "MARIA", func(t *domain.Tutor) bool {
		t.Phone = "(11) 91234-5678"
		return true
	})
	require.NoError(t, err)

	got, err := m.UpdateTutor(ctx, "maria", func(tu *domain.Tutor) bool {
		assert.Equal(t, "(11) 91234-5678", tu.Phone, "mutate sees the stored record")
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", got.Phone)

	_, err = m.UpdateTutor(ctx, "nobody", func(*domain.Tutor) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.UpdatePet(ctx, "t1", "rex", func(*domain.Pet) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUserLookupsAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateUser(ctx, &domain.User{ID: "u1", Username: "Vet.Ana", Email: "Ana@Clinic.com"}))

	u, err := m.GetUserByUsername(ctx, "vet.ana")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	u, err = m.GetUserByEmail(ctx, "ana@clinic.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	err = m.CreateUser(ctx, &domain.User{ID: "u2", Username: "VET.ANA"})
	assert.ErrorIs(t, err, ErrConflict)

	err = m.CreateUser(ctx, &domain.User{ID: "u3", Username: "other", Email: "ana@clinic.com"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.GetUserByEmail(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateUserReindexesEmail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateUser(ctx, &domain.User{ID: "u1", Username: "a", Email: "old@x.com"}))

	u, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.Email = "new@x.com"
	require.NoError(t, m.UpdateUser(ctx, u))

	_, err = m.GetUserByEmail(ctx, "old@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := m.GetUserByEmail(ctx, "NEW@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateTutor(ctx, &domain.Tutor{ID: "t1", Name: "Maria"}))

	got, err := m.FindTutorByName(ctx, "maria")
	require.NoError(t, err)
	got.Phone = "(11) 91234-5678"

	again, err := m.FindTutorByName(ctx, "MARIA")
	require.NoError(t, err)
	assert.Empty(t, again.Phone)
}

func TestMemoryListExamsVisibilityAndSearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	exams := []*domain.Exam{
		{ID: "e1", PetName: "Rex", TutorName: "Maria", ClinicOrVet: "Clinica Sol", ExamType: "Hemograma", CreatedAt: base},
		{ID: "e2", PetName: "Mia", TutorName: "Joao", ClinicOrVet: "Vet Lua", ExamType: "Urina", CreatedAt: base.Add(time.Hour)},
		{ID: "e3", PetName: "Bob", TutorName: "Maria", ClinicOrVet: "Clinica Sol", ExamType: "Raio X", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, e := range exams {
		require.NoError(t, m.CreateExam(ctx, e))
	}
	require.NoError(t, m.GrantPermission(ctx, &domain.ExamPermission{ExamID: "e1", UserID: "tutor"}))
	require.NoError(t, m.GrantPermission(ctx, &domain.ExamPermission{ExamID: "e3", UserID: "tutor"}))
	require.NoError(t, m.GrantPermission(ctx, &domain.ExamPermission{ExamID: "e3", UserID: "tutor"}))

	all, err := m.ListExams(ctx, ExamQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID, "newest first")

	visible, err := m.ListExams(ctx, ExamQuery{VisibleTo: "tutor"})
	require.NoError(t, err)
	require.Len(t, visible, 2)

	found, err := m.ListExams(ctx, ExamQuery{Search: "sol"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	byType, err := m.ListExams(ctx, ExamQuery{ExamType: "urina"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "e2", byType[0].ID)

	page, err := m.ListExams(ctx, ExamQuery{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e2", page[0].ID)

	require.NoError(t, m.DeletePermissions(ctx, "e3"))
	ok, err := m.HasPermission(ctx, "e3", "tutor")
	require.NoError(t, err)
	assert.False(t, ok)
}
