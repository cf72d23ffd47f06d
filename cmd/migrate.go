/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"database/sql"
	"fmt"

	"github.com/blnkfinance/vaultpay"
	"github.com/blnkfinance/vaultpay/database"
	pkgerrors "github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	migrationSchema  = "vaultpay"
	migrationDialect = "postgres"
)

var migrations = migrate.EmbedFileSystemMigrationSource{
	FileSystem: vaultpay.SQLFiles,
	Root:       "sql",
}

// migrateCommands groups the schema migration commands. Migrations are embedded
// from sql/ and tracked in the vaultpay schema.
func migrateCommands(app *vaultpayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run vaultpay database migrations",
	}

	var steps int
	down := migrateDirectionCommand(app, "down", "roll back applied migrations", migrate.Down, &steps)
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 for all)")

	cmd.AddCommand(
		migrateDirectionCommand(app, "up", "apply pending migrations", migrate.Up, nil),
		down,
		migrateStatusCommand(app),
	)
	return cmd
}

func openMigrationDB(app *vaultpayInstance) (*sql.DB, error) {
	db, err := database.ConnectDB(app.cnf.DataSource.Dns)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connect to database")
	}
	migrate.SetSchema(migrationSchema)
	return db, nil
}

func migrateDirectionCommand(app *vaultpayInstance, use, short string, dir migrate.MigrationDirection, steps *int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openMigrationDB(app)
			if err != nil {
				return err
			}
			defer db.Close()

			limit := 0
			if steps != nil {
				limit = *steps
			}
			n, err := migrate.ExecMax(db, migrationDialect, migrations, dir, limit)
			if err != nil {
				return pkgerrors.Wrapf(err, "migrate %s", use)
			}
			logrus.WithFields(logrus.Fields{"direction": use, "count": n}).Info("migrations executed")
			return nil
		},
	}
}

// migrateStatusCommand lists pending migrations without applying them.
func migrateStatusCommand(app *vaultpayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "list pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openMigrationDB(app)
			if err != nil {
				return err
			}
			defer db.Close()

			planned, _, err := migrate.PlanMigration(db, migrationDialect, migrations, migrate.Up, 0)
			if err != nil {
				return pkgerrors.Wrap(err, "plan migrations")
			}
			if len(planned) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, m := range planned {
				fmt.Fprintf(cmd.OutOrStdout(), "pending: %s\n", m.Id)
			}
			return nil
		},
	}
}
