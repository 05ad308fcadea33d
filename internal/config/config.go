// Package config loads the service configuration from .env files, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendMemory    = "memory"
	BackendCouchbase = "couchbase"
)

// Keys double as environment variable names (upper-cased by viper)
const (
	KeyPort             = "api_port"
	KeyLogLevel         = "api_log_level"
	KeyElasticsearchURL = "elasticsearch_url"
	KeyShutdownTimeout  = "shutdown_timeout"
	KeyTrustProxy       = "trust_proxy"

	KeyStoreBackend = "store_backend"

	KeyCouchbaseURL          = "couchbase_url"
	KeyCouchbaseUsername     = "couchbase_username"
	KeyCouchbasePassword     = "couchbase_password"
	KeyCouchbaseBucket       = "couchbase_bucket"
	KeyCouchbaseScope        = "couchbase_scope"
	KeyCouchbaseEnsureSchema = "couchbase_ensure_schema"

	KeyMediaRoot   = "media_root"
	KeyMaxUploadMB = "max_upload_mb"

	KeyEmailHost     = "email_host"
	KeyEmailPort     = "email_port"
	KeyEmailUser     = "email_host_user"
	KeyEmailPassword = "email_host_password"
	KeyEmailFrom     = "default_from_email"
	KeyEmailTimeout  = "email_timeout"

	KeySecretKey          = "secret_key"
	KeySessionTTL         = "session_ttl"
	KeyActivationTTL      = "activation_ttl"
	KeyCookieSecure       = "cookie_secure"
	KeyLoginRatePerMinute = "login_rate_per_minute"
	KeyBcryptCost         = "bcrypt_cost"

	KeySiteURL          = "site_url"
	KeyCanonicalURL     = "canonical_url"
	KeyLegacyHostSuffix = "legacy_host_suffix"

	KeyBusinessMetrics = "business_metrics"
	KeySystemMetrics   = "system_metrics"
	KeyMetricsInterval = "system_metrics_interval"
)

// Server configures the HTTP listener and logging
type Server struct {
	Port             string
	LogLevel         string
	ElasticsearchURL string
	ShutdownTimeout  time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For
	TrustProxy bool
}

// Couchbase holds the cluster coordinates
type Couchbase struct {
	URL          string
	Username     string
	Password     string
	Bucket       string
	Scope        string
	EnsureSchema bool
}

// Media configures uploaded file storage
type Media struct {
	Root          string
	MaxUploadSize int64
}

// Mail configures outgoing email. An empty Host selects the console transport.
type Mail struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Auth configures tokens, cookies and login throttling
type Auth struct {
	SecretKey          string
	SessionTTL         time.Duration
	ActivationTTL      time.Duration
	CookieSecure       bool
	LoginRatePerMinute int
	BcryptCost         int
}

// Site holds the public URLs
type Site struct {
	URL              string
	CanonicalURL     string
	LegacyHostSuffix string
}

// Metrics toggles the collectors
type Metrics struct {
	Business bool
	System   bool
	Interval time.Duration
}

// Config is the full service configuration
type Config struct {
	Server    Server
	Backend   string
	Couchbase Couchbase
	Media     Media
	Mail      Mail
	Auth      Auth
	Site      Site
	Metrics   Metrics
}

// LoadDotEnv loads ../.env, falling back to ./.env. Missing files are not an
// error; the environment may already be set.
func LoadDotEnv() {
	if err := godotenv.Load("../.env"); err == nil {
		return
	}
	log.Debug().Msg("Not found .env file in parent directory, trying current directory")
	if err := godotenv.Load(".env"); err != nil {
		log.Debug().Msg("Not found .env file in current directory, assuming environment variables are set")
	}
}

// SetDefaults registers every default and enables environment lookup
func SetDefaults(v *viper.Viper) {
	v.AutomaticEnv()

	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyElasticsearchURL, "")
	v.SetDefault(KeyShutdownTimeout, 30*time.Second)
	v.SetDefault(KeyTrustProxy, false)

	v.SetDefault(KeyStoreBackend, BackendMemory)

	v.SetDefault(KeyCouchbaseURL, "couchbase://lumavet-db")
	v.SetDefault(KeyCouchbaseUsername, "lumavet")
	v.SetDefault(KeyCouchbasePassword, "")
	v.SetDefault(KeyCouchbaseBucket, "lumavet")
	v.SetDefault(KeyCouchbaseScope, "app")
	v.SetDefault(KeyCouchbaseEnsureSchema, true)

	v.SetDefault(KeyMediaRoot, "media")
	v.SetDefault(KeyMaxUploadMB, 20)

	v.SetDefault(KeyEmailHost, "")
	v.SetDefault(KeyEmailPort, 587)
	v.SetDefault(KeyEmailUser, "")
	v.SetDefault(KeyEmailPassword, "")
	v.SetDefault(KeyEmailFrom, "LumaVet <no-reply@lumavet.pet>")
	v.SetDefault(KeyEmailTimeout, 20*time.Second)

	v.SetDefault(KeySecretKey, "")
	v.SetDefault(KeySessionTTL, 12*time.Hour)
	v.SetDefault(KeyActivationTTL, 72*time.Hour)
	v.SetDefault(KeyCookieSecure, true)
	v.SetDefault(KeyLoginRatePerMinute, 10)
	v.SetDefault(KeyBcryptCost, 12)

	v.SetDefault(KeySiteURL, "http://localhost:8080")
	v.SetDefault(KeyCanonicalURL, "")
	v.SetDefault(KeyLegacyHostSuffix, "onrender.com")

	v.SetDefault(KeyBusinessMetrics, true)
	v.SetDefault(KeySystemMetrics, true)
	v.SetDefault(KeyMetricsInterval, 15*time.Second)
}

// Load reads the configuration from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Server: Server{
			Port:             v.GetString(KeyPort),
			LogLevel:         strings.ToLower(v.GetString(KeyLogLevel)),
			ElasticsearchURL: v.GetString(KeyElasticsearchURL),
			ShutdownTimeout:  v.GetDuration(KeyShutdownTimeout),
			TrustProxy:       v.GetBool(KeyTrustProxy),
		},
		Backend: strings.ToLower(v.GetString(KeyStoreBackend)),
		Couchbase: Couchbase{
			URL:          v.GetString(KeyCouchbaseURL),
			Username:     v.GetString(KeyCouchbaseUsername),
			Password:     v.GetString(KeyCouchbasePassword),
			Bucket:       v.GetString(KeyCouchbaseBucket),
			Scope:        v.GetString(KeyCouchbaseScope),
			EnsureSchema: v.GetBool(KeyCouchbaseEnsureSchema),
		},
		Media: Media{
			Root:          v.GetString(KeyMediaRoot),
			MaxUploadSize: v.GetInt64(KeyMaxUploadMB) << 20,
		},
		Mail: Mail{
			Host:     v.GetString(KeyEmailHost),
			Port:     v.GetInt(KeyEmailPort),
			Username: v.GetString(KeyEmailUser),
			Password: v.GetString(KeyEmailPassword),
			From:     v.GetString(KeyEmailFrom),
			Timeout:  v.GetDuration(KeyEmailTimeout),
		},
		Auth: Auth{
			SecretKey:          v.GetString(KeySecretKey),
			SessionTTL:         v.GetDuration(KeySessionTTL),
			ActivationTTL:      v.GetDuration(KeyActivationTTL),
			CookieSecure:       v.GetBool(KeyCookieSecure),
			LoginRatePerMinute: v.GetInt(KeyLoginRatePerMinute),
			BcryptCost:         v.GetInt(KeyBcryptCost),
		},
		Site: Site{
			URL:              strings.TrimRight(v.GetString(KeySiteURL), "/"),
			CanonicalURL:     strings.TrimRight(v.GetString(KeyCanonicalURL), "/"),
			LegacyHostSuffix: strings.ToLower(strings.TrimSpace(v.GetString(KeyLegacyHostSuffix))),
		},
		Metrics: Metrics{
			Business: v.GetBool(KeyBusinessMetrics),
			System:   v.GetBool(KeySystemMetrics),
			Interval: v.GetDuration(KeyMetricsInterval),
		},
	}
	if cfg.Site.CanonicalURL == "" {
		cfg.Site.CanonicalURL = cfg.Site.URL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("%s is required", strings.ToUpper(KeyPort)))
	}
	switch c.Backend {
	case BackendMemory:
	case BackendCouchbase:
		if c.Couchbase.URL == "" || c.Couchbase.Bucket == "" || c.Couchbase.Scope == "" {
			errs = append(errs, errors.New("couchbase backend needs COUCHBASE_URL, COUCHBASE_BUCKET and COUCHBASE_SCOPE"))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", strings.ToUpper(KeyStoreBackend), BackendMemory, BackendCouchbase, c.Backend))
	}
	if len(c.Auth.SecretKey) < 32 {
		errs = append(errs, fmt.Errorf("%s must be at least 32 bytes", strings.ToUpper(KeySecretKey)))
	}
	if c.Media.MaxUploadSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", strings.ToUpper(KeyMaxUploadMB)))
	}
	if c.Auth.LoginRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", strings.ToUpper(KeyLoginRatePerMinute)))
	}
	for key, raw := range map[string]string{KeySiteURL: c.Site.URL, KeyCanonicalURL: c.Site.CanonicalURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", strings.ToUpper(key), raw))
		}
	}
	return errors.Join(errs...)
}
