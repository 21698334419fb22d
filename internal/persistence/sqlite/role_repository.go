package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/neighborhood-portal/internal/persistence"
)

// RoleRepository stores role assignments.
type RoleRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewRoleRepository creates a new SQLite role repository.
func NewRoleRepository(pool *ConnectionPool) *RoleRepository {
	return &RoleRepository{helper: NewQueryHelper(pool), mapper: NewErrorMapper()}
}

// CreateRole stores an assignment. The table's checks reject a KETUA_RT
// without an RT and a KETUA_RW without an RW.
func (r *RoleRepository) CreateRole(ctx context.Context, role persistence.RoleAssignment) error {
	if role.ID == "" || role.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO role_assignments (id, user_id, role, rt_id, rw_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		role.ID, role.UserID, role.Role, nullInt64(role.RTID), nullInt64(role.RWID), formatTime(role.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// ListRolesForUser returns the user's assignments with RT and RW numbers
// resolved, oldest first.
func (r *RoleRepository) ListRolesForUser(ctx context.Context, userID string) ([]persistence.RoleAssignment, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT ra.id, ra.user_id, ra.role, ra.rt_id, COALESCE(rts.rt_no, ''),
			COALESCE(ra.rw_id, rts.rw_id), COALESCE(rws.rw_no, ''), ra.created_at
		FROM role_assignments ra
		LEFT JOIN rts ON rts.id = ra.rt_id
		LEFT JOIN rws ON rws.id = COALESCE(ra.rw_id, rts.rw_id)
		WHERE ra.user_id = ?
		ORDER BY ra.created_at ASC, ra.id ASC`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var roles []persistence.RoleAssignment
	for rows.Next() {
		var (
			role      persistence.RoleAssignment
			rtID      sql.NullInt64
			rwID      sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&role.ID, &role.UserID, &role.Role, &rtID, &role.RTNo, &rwID, &role.RWNo, &createdAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		role.RTID = int64Ptr(rtID)
		role.RWID = int64Ptr(rwID)
		if role.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return roles, nil
}
