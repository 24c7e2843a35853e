package commands

import (
	"database/sql"

	"github.com/opsdeckhq/opsdeck/config"
	"github.com/opsdeckhq/opsdeck/db"
	"github.com/opsdeckhq/opsdeck/errors"
	"github.com/opsdeckhq/opsdeck/logger"
)

// openDatabase opens and migrates the configured database. Pass a path to
// override the configured one.
func openDatabase(pathOverride string) (*sql.DB, error) {
	path := pathOverride
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.Database.Path
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return database, nil
}
