package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL
)`

// Runner applies migrations and records them in schema_migrations.
type Runner struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner constructs a Runner. A nil logger falls back to slog.Default.
func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, logger: logger.With("component", "migration"), now: time.Now}
}

// Up applies every migration that has not run yet, in version order, and
// returns the versions it applied. An applied migration whose checksum no
// longer matches its file stops the run.
func (r *Runner) Up(ctx context.Context, migrations []Migration) ([]int, error) {
	status, err := r.Status(ctx, migrations)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		r.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil, nil
	}

	r.logger.InfoContext(ctx, "applying migrations", "from_version", status.CurrentVersion, "pending", len(status.Pending))
	applied := make([]int, 0, len(status.Pending))
	for _, m := range status.Pending {
		started := r.now()
		if err := r.apply(ctx, m, started); err != nil {
			r.logger.ErrorContext(ctx, "migration failed", "version", m.Version, "file", m.FilePath, "error", err)
			return applied, err
		}
		applied = append(applied, m.Version)
		r.logger.InfoContext(ctx, "migration applied", "version", m.Version, "description", m.Description, "duration", r.now().Sub(started))
	}
	return applied, nil
}

// Status compares the migrations with the schema_migrations table.
func (r *Runner) Status(ctx context.Context, migrations []Migration) (Status, error) {
	if _, err := r.db.ExecContext(ctx, versionTableSQL); err != nil {
		return Status{}, &MigrationError{Operation: "create schema_migrations", Err: err}
	}
	applied, err := r.appliedMigrations(ctx)
	if err != nil {
		return Status{}, err
	}

	byVersion := make(map[int]AppliedMigration, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		byVersion[a.Version] = a
		if a.Version > status.CurrentVersion {
			status.CurrentVersion = a.Version
		}
	}
	for _, m := range migrations {
		a, ok := byVersion[m.Version]
		if !ok {
			status.Pending = append(status.Pending, m)
			continue
		}
		if a.Checksum != m.Checksum {
			return Status{}, newMigrationError(m, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}

func (r *Runner) apply(ctx context.Context, m Migration, started time.Time) (err error) {
	statements := splitStatements(m.SQL)
	if len(statements) == 0 {
		return newMigrationError(m, "parse SQL", fmt.Errorf("%w: no statements", ErrInvalidMigrationFile))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(m, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.ErrorContext(ctx, "rollback failed", "version", m.Version, "error", rbErr)
			}
		}
	}()

	for i, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return newMigrationError(m, fmt.Sprintf("execute statement %d", i+1), err)
		}
	}
	elapsed := r.now().Sub(started)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum, applied_at, execution_time_ms) VALUES (?, ?, ?, ?)`,
		m.Version, m.Checksum, r.now().UTC().Format(time.RFC3339), elapsed.Milliseconds(),
	); err != nil {
		return newMigrationError(m, "record migration", err)
	}
	if err = tx.Commit(); err != nil {
		return newMigrationError(m, "commit transaction", err)
	}
	return nil
}

func (r *Runner) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT version, checksum, applied_at, execution_time_ms FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, &MigrationError{Operation: "read schema_migrations", Err: err}
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
			elapsedMS int64
		)
		if err := rows.Scan(&a.Version, &a.Checksum, &appliedAt, &elapsedMS); err != nil {
			return nil, &MigrationError{Operation: "scan schema_migrations", Err: err}
		}
		if a.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, &MigrationError{Version: a.Version, Operation: "parse applied_at", Err: err}
		}
		a.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &MigrationError{Operation: "read schema_migrations", Err: err}
	}
	return applied, nil
}
