package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/example/neighborhood-portal/internal/persistence"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite/migration"
)

// Storage bundles every SQLite repository over one connection pool.
type Storage struct {
	*UserRepository
	*NeighborhoodRepository
	*RoleRepository
	*CategoryRepository
	*ApprovalRepository
	*SessionRepository
	*VerificationCodeRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

var (
	_ persistence.UserRepository             = (*Storage)(nil)
	_ persistence.NeighborhoodRepository     = (*Storage)(nil)
	_ persistence.RoleRepository             = (*Storage)(nil)
	_ persistence.CategoryRepository         = (*Storage)(nil)
	_ persistence.ApprovalRepository         = (*Storage)(nil)
	_ persistence.SessionRepository          = (*Storage)(nil)
	_ persistence.VerificationCodeRepository = (*Storage)(nil)
)

// Open connects to the database described by config. Call Migrate before use
// on a fresh database.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return newStorage(pool, logger), nil
}

func newStorage(pool *ConnectionPool, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		UserRepository:             NewUserRepository(pool),
		NeighborhoodRepository:     NewNeighborhoodRepository(pool),
		RoleRepository:             NewRoleRepository(pool),
		CategoryRepository:         NewCategoryRepository(pool),
		ApprovalRepository:         NewApprovalRepository(pool),
		SessionRepository:          NewSessionRepository(pool),
		VerificationCodeRepository: NewVerificationCodeRepository(pool),
		pool:                       pool,
		logger:                     logger,
	}
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	migrations, err := Migrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if _, err := migration.NewRunner(s.pool.DB(), s.logger).Up(ctx, migrations); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// DB exposes the underlying handle for reference-data seeding.
func (s *Storage) DB() *sql.DB {
	return s.pool.DB()
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
