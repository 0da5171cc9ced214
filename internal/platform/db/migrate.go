package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies pending schema migrations from fsys. It is idempotent and
// safe to run on every startup; goose requires a database/sql handle, so a
// short-lived one is opened next to the pgx pool.
func Migrate(ctx context.Context, dsn string, fsys fs.FS) error {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open: %w", err)
	}
	defer func() {
		_ = sqldb.Close()
	}()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqldb, fsys)
	if err != nil {
		return fmt.Errorf("platform/db: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}
	return nil
}
