// Package migration applies versioned SQL migrations to a SQLite database.
//
// Migration files are read from an fs.FS and follow the naming convention
// {version}_{description}.sql (for example "0001_initial_schema.sql").
// Versions must form a contiguous sequence starting at 1. Each migration runs
// in its own transaction and is recorded in the schema_migrations table, so
// running the same set twice is a no-op.
//
// Example usage:
//
//	migrations, err := migration.Load(fsys, "migrations")
//	if err != nil {
//		return err
//	}
//	runner := migration.NewRunner(db, logger)
//	if _, err := runner.Up(ctx, migrations); err != nil {
//		return err
//	}
package migration
