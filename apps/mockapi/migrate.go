package main

import (
	"github.com/trezcool/presensi/storage/database"
)

// migrate runs a goose command, e.g. `migrate up-to 2`, on the embedded migrations.
func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return database.RunMigrations(cli.db, args[0], args[1:]...)
}
