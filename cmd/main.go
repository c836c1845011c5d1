package main

import (
	"os"

	"github.com/eaglebank/ledger-service/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cliApp carries the configuration loaded before any subcommand runs.
type cliApp struct {
	envFile string
	cfg     *config.Config
}

func newRootCommand() *cobra.Command {
	app := &cliApp{}

	rootCmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Banking ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.envFile)
			if err != nil {
				return err
			}
			cfg.ConfigureLogger()
			app.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&app.envFile, "env-file", ".env", "dotenv file loaded before reading LEDGER_* variables")

	rootCmd.AddCommand(serveCommand(app))
	rootCmd.AddCommand(migrateCommand(app))
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("ledger exited")
		os.Exit(1)
	}
}
