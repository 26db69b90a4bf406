// Command mockapi serves the attendance backend REST contract for local development.
//
// Storage is in-memory unless DATABASE_ENGINE (e.g. postgres) is set.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/registry"
	logsvc "github.com/trezcool/presensi/services/logger"
	"github.com/trezcool/presensi/storage/database"
	dummydb "github.com/trezcool/presensi/storage/database/dummy"
	sqlxrepos "github.com/trezcool/presensi/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up storage
	repo, db, err := setUpStorage(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	if db != nil {
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
	}

	validate, translator := core.NewValidator()

	// start CLI
	cli := commandLine{
		conf:       conf,
		logger:     logger,
		db:         db,
		registry:   registry.NewService(repo, logger, validate, translator),
		validate:   validate,
		translator: translator,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}

// setUpStorage picks the in-memory repository, or Postgres when a database engine is configured.
// Postgres schemas are migrated on start.
func setUpStorage(conf *core.Config) (registry.Repository, *sql.DB, error) {
	if conf.Database.Engine == "" {
		return dummydb.NewRegistryRepository(dummydb.Open()), nil, nil
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, nil, err
	}
	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sqlxrepos.NewRegistryRepository(db), db.DB, nil
}
