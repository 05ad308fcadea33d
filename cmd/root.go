package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lumavet.pet/lumavet/internal/config"
	"lumavet.pet/lumavet/pkg/zerolog_config"
)

const appName = "lumavet"

var (
	envFile string
	rootCmd = &cobra.Command{
		Use:          appName,
		Short:        "Veterinary exam delivery service",
		Long:         `lumavet receives exam PDFs from clinics, files them under the right tutor and pet, and emails the tutor a link to read them.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load this .env file instead of ../.env or ./.env")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level")))
}

func initConfig() {
	if envFile != "" {
		cobra.CheckErr(godotenv.Load(envFile))
	} else {
		config.LoadDotEnv()
	}
	config.SetDefaults(viper.GetViper())
}

// loadConfig validates the configuration and installs the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	err = zerolog_config.Startup(zerolog_config.Options{
		App:              appName,
		Level:            cfg.Server.LogLevel,
		ElasticsearchURL: cfg.Server.ElasticsearchURL,
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
