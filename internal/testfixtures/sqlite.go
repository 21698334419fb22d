package testfixtures

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides a migrated SQLite storage under a temporary directory
// together with seeding helpers for residents and roles.
type SQLiteHarness struct {
	Storage *sqlite.Storage
	Config  migration.SQLiteConfig

	tb      testing.TB
	roleIDs *IDGenerator
	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a file database under tb.TempDir and applies the
// embedded migrations, including the seeded RT/RW and letter catalog. Close is
// registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	cfg := migration.TempFileTestSQLiteConfig(tb.TempDir())
	storage, err := sqlite.Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		Config:  cfg,
		tb:      tb,
		roleIDs: NewIDGenerator("role"),
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// SeedUser stores the resident and returns it.
func (h *SQLiteHarness) SeedUser(user UserFixture) UserFixture {
	h.tb.Helper()
	if err := h.Storage.CreateUser(context.Background(), user.Persistence()); err != nil {
		h.tb.Fatalf("failed to seed user %s: %v", user.ID, err)
	}
	return user
}

// Grant stores role assignments for user.
func (h *SQLiteHarness) Grant(user UserFixture, roles ...access.RoleAssignment) {
	h.tb.Helper()
	for _, role := range roles {
		if err := h.Storage.CreateRole(context.Background(), RoleRow(h.roleIDs.Next(), user.ID, role)); err != nil {
			h.tb.Fatalf("failed to grant %s to %s: %v", role.Role, user.ID, err)
		}
	}
}

// SeedNeighborhood inserts an extra RT under rwID, creating the RW if needed.
func (h *SQLiteHarness) SeedNeighborhood(rtID, rwID int64) {
	h.tb.Helper()
	ctx := context.Background()
	db := h.Storage.DB()
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO rws (id, rw_no) VALUES (?, ?)`, rwID, fmt.Sprintf("%03d", rwID)); err != nil {
		h.tb.Fatalf("failed to seed rw %d: %v", rwID, err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO rts (id, rw_id, rt_no) VALUES (?, ?, ?)`, rtID, rwID, fmt.Sprintf("%03d", rtID)); err != nil {
		h.tb.Fatalf("failed to seed rt %d: %v", rtID, err)
	}
}
