package main

import (
	"fmt"

	"github.com/eaglebank/ledger-service/internal/config"
	"github.com/eaglebank/ledger-service/internal/repository"
	"github.com/eaglebank/ledger-service/migrations"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func migrateCommand(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL schema",
	}
	cmd.AddCommand(migrateDirectionCommand(app, "up", "Apply all pending migrations", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(app, "down", "Roll back all applied migrations", migrate.Down))
	return cmd
}

func migrateDirectionCommand(app *cliApp, use, short string, dir migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrations need LEDGER_STORE=postgres, got %q", app.cfg.Store)
			}

			db, err := repository.ConnectDB(cmd.Context(), app.cfg.DatabaseURL, 1, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrations.Source(), dir)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			logrus.WithFields(logrus.Fields{"direction": use, "count": n}).Info("migrations applied")
			return nil
		},
	}
}
