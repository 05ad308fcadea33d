package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/config"
	"lumavet.pet/lumavet/internal/domain"
)

var (
	adminUsername string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backend != config.BackendCouchbase {
			return errors.New("create-admin needs a persistent store, set STORE_BACKEND=couchbase")
		}

		svc, err := buildServices(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.backend.Close()

		u, err := createAdmin(cmd.Context(), svc.accounts, adminUsername, adminEmail, adminPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", u.Username, u.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminUsername, "username", "", "login name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "email address")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "initial password")
	cobra.CheckErr(createAdminCmd.MarkFlagRequired("username"))
	cobra.CheckErr(createAdminCmd.MarkFlagRequired("password"))
}

func createAdmin(ctx context.Context, acct *accounts.Service, username, email, password string) (*domain.User, error) {
	u, err := acct.CreateUser(ctx, accounts.NewUser{
		Username:  username,
		Email:     email,
		Password:  password,
		Role:      domain.RoleAdmin,
		Superuser: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("Admin account created")
	return u, nil
}
