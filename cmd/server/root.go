package main

import (
	"github.com/spf13/cobra"

	"github.com/seoforge/backend/internal/config"
	"github.com/seoforge/backend/internal/logging"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "seoforge",
		Short:         "SEO article generation backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML, TOML or JSON config file")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(loadConfig),
		newMigrateCmd(loadConfig),
		newAccountsCmd(loadConfig),
	)
	return rootCmd
}

type configLoader func() (*config.Config, error)
