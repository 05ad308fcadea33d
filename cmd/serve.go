package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/api"
	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/config"
	"lumavet.pet/lumavet/internal/couchbase"
	"lumavet.pet/lumavet/internal/exams"
	"lumavet.pet/lumavet/internal/media"
	"lumavet.pet/lumavet/internal/metrics"
	"lumavet.pet/lumavet/internal/notify"
	"lumavet.pet/lumavet/internal/orchestrator"
	"lumavet.pet/lumavet/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts the JSON API, the Prometheus endpoint and the system metrics collector, and runs until SIGINT or SIGTERM.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("port", "p", "", "port to run the API server on (overrides API_PORT)")
	cobra.CheckErr(viper.BindPFlag(config.KeyPort, serveCmd.Flags().Lookup("port")))
}

// services is the wired application
type services struct {
	backend  store.Store
	accounts *accounts.Service
	exams    *exams.Service
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	backend, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	files, err := media.NewOS(cfg.Media.Root)
	if err != nil {
		backend.Close()
		return nil, err
	}
	tokens, err := authz.NewTokenManager(cfg.Auth.SecretKey, cfg.Auth.SessionTTL, cfg.Auth.ActivationTTL)
	if err != nil {
		backend.Close()
		return nil, err
	}

	acct := accounts.NewService(backend, tokens, files, accounts.Options{
		SiteURL:    cfg.Site.URL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	notifier := notify.New(mailTransport(cfg.Mail), cfg.Mail.From, cfg.Site.URL)
	ex := exams.NewService(backend, files, notifier, acct, cfg.Media.MaxUploadSize)

	return &services{backend: backend, accounts: acct, exams: ex}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Backend != config.BackendCouchbase {
		log.Warn().Msg("Using the in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}
	s, err := couchbase.Open(ctx, couchbase.Config{
		URL:          cfg.Couchbase.URL,
		Username:     cfg.Couchbase.Username,
		Password:     cfg.Couchbase.Password,
		Bucket:       cfg.Couchbase.Bucket,
		Scope:        cfg.Couchbase.Scope,
		ReadyTimeout: 30 * time.Second,
	}, cfg.Couchbase.EnsureSchema)
	if err != nil {
		return nil, fmt.Errorf("open couchbase store: %w", err)
	}
	return s, nil
}

func mailTransport(cfg config.Mail) notify.Transport {
	if cfg.Host == "" {
		log.Warn().Msg("EMAIL_HOST not set, emails are written to the log")
		return notify.ConsoleTransport{}
	}
	return notify.NewSMTPTransport(smtpConfig(cfg))
}

func smtpConfig(cfg config.Mail) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("backend", cfg.Backend).Msg("Starting lumavet service")

	metrics.Enable(cfg.Metrics.Business, cfg.Metrics.System)

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.backend.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	server := api.NewServer(svc.accounts, svc.exams, api.Options{
		CookieSecure:       cfg.Auth.CookieSecure,
		TrustProxy:         cfg.Server.TrustProxy,
		LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
		CanonicalURL:       cfg.Site.CanonicalURL,
		LegacyHostSuffix:   cfg.Site.LegacyHostSuffix,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := orchestrator.NewSignalHandler().Context(ctx)
	defer stop()

	sm := orchestrator.NewServiceManager()
	sm.Add("api", orchestrator.HTTPService(httpServer, cfg.Server.ShutdownTimeout))
	sm.Add("system-metrics", func(ctx context.Context) error {
		return metrics.RunSystemMetrics(ctx, cfg.Metrics.Interval)
	})
	return sm.Run(ctx)
}
