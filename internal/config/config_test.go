package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	v.Set(KeySecretKey, secret)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, int64(20<<20), cfg.Media.MaxUploadSize)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "onrender.com", cfg.Site.LegacyHostSuffix)
	assert.Equal(t, cfg.Site.URL, cfg.Site.CanonicalURL, "canonical defaults to the site URL")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("SECRET_KEY", secret)
	t.Setenv("STORE_BACKEND", "Couchbase")
	t.Setenv("EMAIL_HOST", "smtp.example.com")
	t.Setenv("EMAIL_PORT", "2525")
	t.Setenv("SITE_URL", "https://lumavet.pet/")
	t.Setenv("CANONICAL_URL", "https://www.lumavet.pet")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("MAX_UPLOAD_MB", "5")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, BackendCouchbase, cfg.Backend)
	assert.Equal(t, "smtp.example.com", cfg.Mail.Host)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, "https://lumavet.pet", cfg.Site.URL)
	assert.Equal(t, "https://www.lumavet.pet", cfg.Site.CanonicalURL)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, int64(5<<20), cfg.Media.MaxUploadSize)
	assert.True(t, cfg.Server.TrustProxy)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]interface{}
		want string
	}{
		{"Short secret", map[string]interface{}{KeySecretKey: "short"}, "SECRET_KEY"},
		{"Unknown backend", map[string]interface{}{KeySecretKey: secret, KeyStoreBackend: "postgres"}, "STORE_BACKEND"},
		{"Relative site URL", map[string]interface{}{KeySecretKey: secret, KeySiteURL: "lumavet.pet"}, "SITE_URL"},
		{"Zero rate", map[string]interface{}{KeySecretKey: secret, KeyLoginRatePerMinute: 0}, "LOGIN_RATE_PER_MINUTE"},
		{"Couchbase without bucket", map[string]interface{}{KeySecretKey: secret, KeyStoreBackend: BackendCouchbase, KeyCouchbaseBucket: ""}, "COUCHBASE_BUCKET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
