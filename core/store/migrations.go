package store

import (
	"context"
	"embed"

	"takedown/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// ApplyMigrations brings the schema up to date using the embedded goose
// migrations for the opened database's dialect. Safe to call on every start.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	gooseDialect, dir := "sqlite3", "migrations/sqlite"
	if db.Dialect == DialectPostgres {
		gooseDialect, dir = "postgres", "migrations/postgres"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return err
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err == nil {
		logger.Infof("store: schema at version %d", version)
	}
	return nil
}
