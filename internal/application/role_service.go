package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
)

// UserReader loads a user by ID.
type UserReader interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// RoleGrant is a role assignment about to be stored.
type RoleGrant struct {
	ID         string
	UserID     string
	Assignment access.RoleAssignment
	CreatedAt  time.Time
}

// RoleRepository captures role assignment persistence.
type RoleRepository interface {
	ListRoles(ctx context.Context, userID string) ([]access.RoleAssignment, error)
	AddRole(ctx context.Context, grant RoleGrant) error
}

// NeighborhoodDirectory resolves RT and RW identifiers.
type NeighborhoodDirectory interface {
	GetRT(ctx context.Context, rtID int64) (Neighborhood, error)
	GetRW(ctx context.Context, rwID int64) (Neighborhood, error)
}

// RoleService answers role lookups for authorization and lets
// administrators grant roles.
type RoleService struct {
	roles       RoleRepository
	users       UserReader
	directory   NeighborhoodDirectory
	cache       *roleCache
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

var _ access.RoleSource = (*RoleService)(nil)

// NewRoleService constructs a RoleService with the provided dependencies.
func NewRoleService(roles RoleRepository, users UserReader, directory NeighborhoodDirectory, cacheTTL time.Duration, idGenerator func() string, now func() time.Time) *RoleService {
	return NewRoleServiceWithLogger(roles, users, directory, cacheTTL, idGenerator, now, nil)
}

// NewRoleServiceWithLogger constructs a RoleService with a specified logger.
func NewRoleServiceWithLogger(roles RoleRepository, users UserReader, directory NeighborhoodDirectory, cacheTTL time.Duration, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RoleService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &RoleService{
		roles:       roles,
		users:       users,
		directory:   directory,
		cache:       newRoleCache(cacheTTL, 0, now),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *RoleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoleService", operation, attrs...)
}

// RolesFor returns the user's role assignments, served from cache when fresh.
func (s *RoleService) RolesFor(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	if s == nil || s.roles == nil {
		return nil, fmt.Errorf("role repository not configured")
	}
	if roles, ok := s.cache.Get(userID); ok {
		return roles, nil
	}
	roles, err := s.roles.ListRoles(ctx, userID)
	if err != nil {
		s.loggerWith(ctx, "RolesFor", "user_id", userID).
			ErrorContext(ctx, "role lookup failed", "error", err, "error_kind", ErrorKind(err))
		return nil, mapRepoError(err)
	}
	s.cache.Store(userID, roles)
	return roles, nil
}

// MyRoles lists the caller's own role assignments.
func (s *RoleService) MyRoles(ctx context.Context, principal Principal) ([]access.RoleAssignment, error) {
	if strings.TrimSpace(principal.UserID) == "" {
		return nil, denied(access.ReasonNotAuthenticated)
	}
	return s.RolesFor(ctx, principal.UserID)
}

// Invalidate drops any cached roles for userID.
func (s *RoleService) Invalidate(userID string) {
	if s == nil {
		return
	}
	s.cache.Invalidate(userID)
}

// Assign grants a role. Only administrators may grant, and only a
// SUPER_ADMIN may grant the administrative roles.
func (s *RoleService) Assign(ctx context.Context, actor Principal, params AssignRoleParams) (assignment access.RoleAssignment, err error) {
	if s == nil || s.roles == nil || s.users == nil || s.directory == nil {
		err = fmt.Errorf("RoleService is not fully configured")
		return
	}

	logger := s.loggerWith(ctx, "Assign",
		"actor_id", actor.UserID,
		"user_id", params.UserID,
		"role", params.Role,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "role assignment failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "role assigned", "rt_id", assignment.RTID, "rw_id", assignment.RWID)
	}()

	var actorRoles []access.RoleAssignment
	actorRoles, err = s.RolesFor(ctx, actor.UserID)
	if err != nil {
		return
	}
	actorIdentity := &access.Identity{UserID: actor.UserID, Roles: actorRoles}
	if !actorIdentity.HasRole(access.RoleAdmin, access.RoleSuperAdmin) {
		err = denied(access.ReasonMissingRole)
		return
	}

	vErr := &ValidationError{}
	role, parseErr := access.ParseRoleName(string(params.Role))
	if parseErr != nil {
		vErr.add("role", "must be one of KETUA_RT, KETUA_RW, ADMIN, SUPER_ADMIN")
	}
	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		vErr.add("userId", "is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if (role == access.RoleAdmin || role == access.RoleSuperAdmin) && !actorIdentity.HasRole(access.RoleSuperAdmin) {
		err = denied(access.ReasonMissingRole)
		return
	}

	if _, err = s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = fieldError("userId", "does not exist")
		}
		return
	}

	assignment, err = s.resolveScope(ctx, role, params)
	if err != nil {
		return
	}
	if err = assignment.Validate(); err != nil {
		err = fieldError("scope", err.Error())
		return
	}

	var existing []access.RoleAssignment
	existing, err = s.roles.ListRoles(ctx, userID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	for _, held := range existing {
		if held.Role == assignment.Role && held.RTID == assignment.RTID && held.RWID == assignment.RWID {
			err = fieldError("role", "is already assigned")
			return
		}
	}

	grant := RoleGrant{ID: s.idGenerator(), UserID: userID, Assignment: assignment, CreatedAt: s.now()}
	if err = s.roles.AddRole(ctx, grant); err != nil {
		err = mapRepoError(err)
		return
	}
	s.cache.Invalidate(userID)
	return
}

func (s *RoleService) resolveScope(ctx context.Context, role access.RoleName, params AssignRoleParams) (access.RoleAssignment, error) {
	assignment := access.RoleAssignment{Role: role}
	switch role {
	case access.RoleKetuaRT:
		if params.RTID <= 0 {
			return assignment, fieldError("rtId", "is required for KETUA_RT")
		}
		rt, err := s.directory.GetRT(ctx, params.RTID)
		if err != nil {
			if errors.Is(mapRepoError(err), ErrNotFound) {
				return assignment, fieldError("rtId", "does not exist")
			}
			return assignment, err
		}
		assignment.RTID, assignment.RTNo = rt.RTID, rt.RTNo
		assignment.RWID, assignment.RWNo = rt.RWID, rt.RWNo
	case access.RoleKetuaRW:
		if params.RWID <= 0 {
			return assignment, fieldError("rwId", "is required for KETUA_RW")
		}
		rw, err := s.directory.GetRW(ctx, params.RWID)
		if err != nil {
			if errors.Is(mapRepoError(err), ErrNotFound) {
				return assignment, fieldError("rwId", "does not exist")
			}
			return assignment, err
		}
		assignment.RWID, assignment.RWNo = rw.RWID, rw.RWNo
	}
	return assignment, nil
}
