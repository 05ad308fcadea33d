package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lumavet.pet/lumavet/internal/config"
	"lumavet.pet/lumavet/internal/notify"
)

var errMissingSMTP = errors.New("EMAIL_HOST, EMAIL_HOST_USER and EMAIL_HOST_PASSWORD must be set in the environment")

var testSMTPCmd = &cobra.Command{
	Use:   "test-smtp",
	Short: "Check the SMTP relay credentials",
	Long:  `Connects to EMAIL_HOST, upgrades with STARTTLS and logs in with EMAIL_HOST_USER, without sending any mail.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		cfg := notify.SMTPConfig{
			Host:     v.GetString(config.KeyEmailHost),
			Port:     v.GetInt(config.KeyEmailPort),
			Username: v.GetString(config.KeyEmailUser),
			Password: v.GetString(config.KeyEmailPassword),
			Timeout:  v.GetDuration(config.KeyEmailTimeout),
		}
		return checkSMTP(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(testSMTPCmd)
}

func checkSMTP(ctx context.Context, out io.Writer, cfg notify.SMTPConfig) error {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return errMissingSMTP
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	fmt.Fprintf(out, "HOST=%s PORT=%d USER=%s PASS_LEN=%d\n", cfg.Host, cfg.Port, cfg.Username, len(cfg.Password))

	c, err := notify.NewSMTPTransport(cfg).Dial(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "LOGIN OK")
	return c.Quit()
}
