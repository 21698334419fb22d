package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/neighborhood-portal/internal/persistence"
)

const userColumns = `id, email, password_hash, email_verified, ktp_completed, details_completed,
	nik, full_name, rt_id, address, phone, created_at, updated_at`

const selectUser = `
	SELECT u.id, u.email, u.password_hash, u.email_verified, u.ktp_completed, u.details_completed,
		u.nik, u.full_name, u.rt_id, rts.rw_id, u.address, u.phone, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN rts ON rts.id = u.rt_id`

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateUser inserts a new user. Emails are stored normalized.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || user.PasswordHash == "" || strings.TrimSpace(user.Email) == "" {
		return persistence.ErrConstraintViolation
	}

	_, err := r.helper.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		normalizeEmail(user.Email),
		user.PasswordHash,
		user.EmailVerified,
		user.KTPCompleted,
		user.DetailsCompleted,
		nullString(user.NIK),
		nullString(user.FullName),
		nullInt64(user.RTID),
		nullString(user.Address),
		nullString(user.Phone),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// UpdateUser replaces the profile columns of an existing user. The password
// hash is left untouched.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}

	result, err := r.helper.Exec(ctx, `
		UPDATE users
		SET email = ?, email_verified = ?, ktp_completed = ?, details_completed = ?,
			nik = ?, full_name = ?, rt_id = ?, address = ?, phone = ?, updated_at = ?
		WHERE id = ?`,
		normalizeEmail(user.Email),
		user.EmailVerified,
		user.KTPCompleted,
		user.DetailsCompleted,
		nullString(user.NIK),
		nullString(user.FullName),
		nullInt64(user.RTID),
		nullString(user.Address),
		nullString(user.Phone),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return r.scanUser(r.helper.QueryRow(ctx, selectUser+` WHERE u.id = ?`, id))
}

// GetUserByEmail retrieves a user by case-insensitive email address.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return r.scanUser(r.helper.QueryRow(ctx, selectUser+` WHERE u.email = ?`, normalized))
}

func (r *UserRepository) scanUser(row *sql.Row) (persistence.User, error) {
	var (
		user                 persistence.User
		nik, fullName        sql.NullString
		address, phone       sql.NullString
		rtID, rwID           sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.KTPCompleted,
		&user.DetailsCompleted,
		&nik,
		&fullName,
		&rtID,
		&rwID,
		&address,
		&phone,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}

	user.NIK = stringPtr(nik)
	user.FullName = stringPtr(fullName)
	user.RTID = int64Ptr(rtID)
	user.RWID = int64Ptr(rwID)
	user.Address = stringPtr(address)
	user.Phone = stringPtr(phone)
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return user, nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
