package sqlite

import (
	"embed"

	"github.com/example/neighborhood-portal/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations in version order.
func Migrations() ([]migration.Migration, error) {
	return migration.Load(migrationFiles, "migrations")
}
