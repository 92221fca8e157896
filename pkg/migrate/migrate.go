package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// DefaultDir holds the engine schema migrations.
const DefaultDir = "pkg/migrate/migrations"

const dialect = "postgres"

// Run executes a goose command against the given connection.
func Run(ctx context.Context, db *sql.DB, dir, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("migrate: db is required")
	}
	if dir == "" {
		dir = DefaultDir
	}
	if command == "" {
		return fmt.Errorf("migrate: command is required")
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrate: set dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("migrate: goose %s: %w", command, err)
	}
	return nil
}
