package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/config"
	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/media"
	"lumavet.pet/lumavet/internal/notify"
	"lumavet.pet/lumavet/internal/store"
)

func TestCheckSMTPMissingSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  notify.SMTPConfig
	}{
		{"No host", notify.SMTPConfig{Username: "u", Password: "p"}},
		{"No user", notify.SMTPConfig{Host: "smtp.example.com", Password: "p"}},
		{"No password", notify.SMTPConfig{Host: "smtp.example.com", Username: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := checkSMTP(context.Background(), &out, tt.cfg)
			assert.ErrorIs(t, err, errMissingSMTP)
			assert.Empty(t, out.String())
		})
	}
}

func TestCheckSMTPPrintsSettingsBeforeDialing(t *testing.T) {
	var out bytes.Buffer
	cfg := notify.SMTPConfig{Host: "127.0.0.1", Port: 1, Username: "mailer", Password: "secret", Timeout: time.Second}

	err := checkSMTP(context.Background(), &out, cfg)
	require.Error(t, err)
	assert.Equal(t, "HOST=127.0.0.1 PORT=1 USER=mailer PASS_LEN=6\n", out.String())
	assert.NotContains(t, out.String(), "LOGIN OK")
}

func TestCreateAdmin(t *testing.T) {
	tm, err := authz.NewTokenManager("0123456789abcdef0123456789abcdef", time.Hour, time.Hour)
	require.NoError(t, err)
	acct := accounts.NewService(store.NewMemory(), tm, media.NewMemory(), accounts.Options{SiteURL: "https://lumavet.pet", BcryptCost: bcrypt.MinCost})
	ctx := context.Background()

	u, err := createAdmin(ctx, acct, "root", "root@lumavet.pet", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.True(t, u.Superuser)
	assert.True(t, u.Active)

	sess, err := acct.Login(ctx, "root", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)

	_, err = createAdmin(ctx, acct, "ROOT", "", "s3cret-pass")
	assert.Error(t, err, "usernames are unique regardless of case")
}

func TestMailTransportSelection(t *testing.T) {
	_, console := mailTransport(config.Mail{}).(notify.ConsoleTransport)
	assert.True(t, console)

	_, smtp := mailTransport(config.Mail{Host: "smtp.example.com", Port: 587}).(*notify.SMTPTransport)
	assert.True(t, smtp)
}
