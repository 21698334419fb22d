package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/neighborhood-portal/internal/persistence"
)

// VerificationCodeRepository stores hashed email verification codes.
type VerificationCodeRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewVerificationCodeRepository creates a new SQLite verification code repository.
func NewVerificationCodeRepository(pool *ConnectionPool) *VerificationCodeRepository {
	return &VerificationCodeRepository{helper: NewQueryHelper(pool), mapper: NewErrorMapper()}
}

// CreateCode stores a new code hash.
func (r *VerificationCodeRepository) CreateCode(ctx context.Context, code persistence.VerificationCode) error {
	if code.ID == "" || code.UserID == "" || code.CodeHash == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO verification_codes (id, user_id, code_hash, expires_at, consumed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		code.ID, code.UserID, code.CodeHash, formatTime(code.ExpiresAt), formatTimePtr(code.ConsumedAt), formatTime(code.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// LatestCode returns the most recently issued code for a user.
func (r *VerificationCodeRepository) LatestCode(ctx context.Context, userID string) (persistence.VerificationCode, error) {
	var (
		code                 persistence.VerificationCode
		expiresAt, createdAt string
		consumedAt           sql.NullString
	)
	err := r.helper.QueryRow(ctx, `
		SELECT id, user_id, code_hash, expires_at, consumed_at, failed_attempts, created_at
		FROM verification_codes
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID,
	).Scan(&code.ID, &code.UserID, &code.CodeHash, &expiresAt, &consumedAt, &code.FailedAttempts, &createdAt)
	if err != nil {
		return persistence.VerificationCode{}, r.mapper.MapError(err)
	}
	if code.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return persistence.VerificationCode{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	if code.ConsumedAt, err = parseTimePtr(consumedAt); err != nil {
		return persistence.VerificationCode{}, fmt.Errorf("failed to parse consumed_at: %w", err)
	}
	if code.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.VerificationCode{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return code, nil
}

// ConsumeCode marks an unconsumed code as used. A code consumed earlier yields ErrConflict.
func (r *VerificationCodeRepository) ConsumeCode(ctx context.Context, id string, consumedAt time.Time) error {
	result, err := r.helper.Exec(ctx,
		`UPDATE verification_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		formatTime(consumedAt), id,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrConflict
	}
	return nil
}

// RecordFailedAttempt counts a wrong guess against an unconsumed code and
// consumes it once limit guesses have failed. It returns the new count; a
// code that is already consumed yields ErrConflict.
func (r *VerificationCodeRepository) RecordFailedAttempt(ctx context.Context, id string, limit int, at time.Time) (int, error) {
	var attempts int
	err := r.helper.QueryRow(ctx, `
		UPDATE verification_codes
		SET failed_attempts = failed_attempts + 1,
			consumed_at = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE consumed_at END
		WHERE id = ? AND consumed_at IS NULL
		RETURNING failed_attempts`,
		limit, formatTime(at), id,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, persistence.ErrConflict
	}
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	return attempts, nil
}
