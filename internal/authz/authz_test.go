package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumavet.pet/lumavet/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakePerms map[string]bool

func (f fakePerms) HasPermission(_ context.Context, examID, userID string) (bool, error) {
	return f[examID+"/"+userID], nil
}

func TestRolePredicates(t *testing.T) {
	admin := &domain.User{ID: "a", Role: domain.RoleAdmin, Active: true}
	super := &domain.User{ID: "s", Role: domain.RoleTutor, Superuser: true, Active: true}
	basic := &domain.User{ID: "b", Role: domain.RoleBasic, Active: true}
	tutor := &domain.User{ID: "t", Role: domain.RoleTutor, Active: true}
	inactiveAdmin := &domain.User{ID: "x", Role: domain.RoleAdmin}

	tests := []struct {
		name      string
		user      *domain.User
		isAdmin   bool
		canUpload bool
	}{
		{"Admin", admin, true, true},
		{"Superuser", super, true, true},
		{"Basic", basic, false, true},
		{"Tutor", tutor, false, false},
		{"Inactive admin", inactiveAdmin, false, false},
		{"Nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isAdmin, IsAdmin(tt.user))
			assert.Equal(t, tt.canUpload, CanUpload(tt.user))
		})
	}
}

func TestExamAccess(t *testing.T) {
	ctx := context.Background()
	admin := &domain.User{ID: "a", Role: domain.RoleAdmin, Active: true}
	uploader := &domain.User{ID: "b", Role: domain.RoleBasic, Active: true}
	tutor := &domain.User{ID: "t", Role: domain.RoleTutor, Active: true}
	exam := &domain.Exam{ID: "e1", UploadedBy: "b"}
	perms := fakePerms{"e1/t": true}

	assert.True(t, CanDeleteExam(admin, exam))
	assert.True(t, CanDeleteExam(uploader, exam))
	assert.False(t, CanDeleteExam(tutor, exam))

	ok, err := CanViewExam(ctx, perms, admin, "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CanViewExam(ctx, perms, tutor, "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CanViewExam(ctx, perms, uploader, "e1")
	require.NoError(t, err)
	assert.False(t, ok, "uploaders see exams through their grant")

	assert.Equal(t, "", VisibilityFilter(admin))
	assert.Equal(t, "t", VisibilityFilter(tutor))
}

func TestSessionTokens(t *testing.T) {
	tm, err := NewTokenManager(testSecret, time.Hour, 0)
	require.NoError(t, err)
	u := &domain.User{ID: "u1", Role: domain.RoleBasic, PasswordHash: "hash-1", Active: true}

	tok, exp, err := tm.IssueSession(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	c, err := tm.ParseSession(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "BASIC", c.Role)
	assert.True(t, SessionStillValid(c, u))

	u.PasswordHash = "hash-2"
	assert.False(t, SessionStillValid(c, u))

	_, err = tm.ParseSession(tok + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager("ffffffffffffffffffffffffffffffff", time.Hour, 0)
	require.NoError(t, err)
	_, err = other.ParseSession(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionExpiry(t *testing.T) {
	tm, err := NewTokenManager(testSecret, time.Minute, 0)
	require.NoError(t, err)
	fixed := time.Now()
	tm.now = func() time.Time { return fixed }

	tok, _, err := tm.IssueSession(&domain.User{ID: "u1"})
	require.NoError(t, err)

	tm.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	_, err = tm.ParseSession(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestActivationTokens(t *testing.T) {
	tm, err := NewTokenManager(testSecret, 0, 0)
	require.NoError(t, err)
	u := &domain.User{ID: "u1", Email: "maria@example.com", Role: domain.RoleTutor}

	tok, err := tm.IssueActivation(u)
	require.NoError(t, err)
	require.NoError(t, tm.VerifyActivation(u, tok))

	// A session token cannot be used for activation
	sess, _, err := tm.IssueSession(u)
	require.NoError(t, err)
	assert.ErrorIs(t, tm.VerifyActivation(u, sess), ErrInvalidToken)

	// Wrong account
	assert.ErrorIs(t, tm.VerifyActivation(&domain.User{ID: "u2"}, tok), ErrInvalidToken)

	// Setting a password and logging in burns the token
	now := time.Now()
	u.PasswordHash = "new"
	u.Active = true
	u.LastLoginAt = &now
	assert.ErrorIs(t, tm.VerifyActivation(u, tok), ErrTokenUsed)
}

func TestUIDEncoding(t *testing.T) {
	enc := EncodeUID("5f1e0c1c-8a6b-4d1e-9a43-1b2c3d4e5f60")
	assert.NotContains(t, enc, "=")
	assert.NotContains(t, enc, "+")
	assert.NotContains(t, enc, "/")

	dec, err := DecodeUID(enc)
	require.NoError(t, err)
	assert.Equal(t, "5f1e0c1c-8a6b-4d1e-9a43-1b2c3d4e5f60", dec)

	_, err = DecodeUID("***")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = DecodeUID("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerRejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager("short", time.Hour, time.Hour)
	assert.Error(t, err)
}
