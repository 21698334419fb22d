package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/neighborhood-portal/internal/persistence"
)

const approvalColumns = `id, category_id, applicant_id, rt_id, rw_id, reason, status,
	rt_approver_id, rt_action, rt_notes, rt_decided_at,
	rw_approver_id, rw_action, rw_notes, rw_decided_at,
	rejected_at, created_at, updated_at`

// ApprovalRepository stores Surat Pengantar requests.
type ApprovalRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewApprovalRepository creates a new SQLite approval repository.
func NewApprovalRepository(pool *ConnectionPool) *ApprovalRepository {
	return &ApprovalRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateRequest inserts a new request. Writes are attempted once; a busy
// database is reported to the caller.
func (r *ApprovalRepository) CreateRequest(ctx context.Context, request persistence.ApprovalRequest) error {
	if request.ID == "" || request.ApplicantID == "" || request.Status == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID,
		request.CategoryID,
		request.ApplicantID,
		request.RTID,
		request.RWID,
		request.Reason,
		request.Status,
		nullString(request.RTApproverID),
		nullString(request.RTAction),
		nullString(request.RTNotes),
		formatTimePtr(request.RTDecidedAt),
		nullString(request.RWApproverID),
		nullString(request.RWAction),
		nullString(request.RWNotes),
		formatTimePtr(request.RWDecidedAt),
		nullString(request.RejectedAt),
		formatTime(request.CreatedAt),
		formatTime(request.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetRequest retrieves a request by ID.
func (r *ApprovalRepository) GetRequest(ctx context.Context, id string) (persistence.ApprovalRequest, error) {
	if id == "" {
		return persistence.ApprovalRequest{}, persistence.ErrNotFound
	}
	var request persistence.ApprovalRequest
	err := r.retry.WithRetry(ctx, func() error {
		var err error
		request, err = scanApproval(r.helper.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.ApprovalRequest{}, err
	}
	return request, nil
}

// UpdateRequestIfStatus writes the decision columns and status only while
// the stored status equals expectedStatus. Of two concurrent deciders on the
// same request exactly one succeeds; the other receives ErrConflict. Like
// CreateRequest it is never retried.
func (r *ApprovalRepository) UpdateRequestIfStatus(ctx context.Context, request persistence.ApprovalRequest, expectedStatus string) error {
	if request.ID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, `
			UPDATE approval_requests
			SET status = ?,
				rt_approver_id = ?, rt_action = ?, rt_notes = ?, rt_decided_at = ?,
				rw_approver_id = ?, rw_action = ?, rw_notes = ?, rw_decided_at = ?,
				rejected_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			request.Status,
			nullString(request.RTApproverID),
			nullString(request.RTAction),
			nullString(request.RTNotes),
			formatTimePtr(request.RTDecidedAt),
			nullString(request.RWApproverID),
			nullString(request.RWAction),
			nullString(request.RWNotes),
			formatTimePtr(request.RWDecidedAt),
			nullString(request.RejectedAt),
			formatTime(request.UpdatedAt),
			request.ID,
			expectedStatus,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 1 {
			return nil
		}

		var exists int
		err = r.helper.QueryRowTx(ctx, tx, `SELECT 1 FROM approval_requests WHERE id = ?`, request.ID).Scan(&exists)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return persistence.ErrConflict
	})
}

// ListRequests returns one page of requests matching filter plus the total
// number of matches. Ordering is by creation time, then ID.
func (r *ApprovalRepository) ListRequests(ctx context.Context, filter persistence.ApprovalFilter) ([]persistence.ApprovalRequest, int, error) {
	var (
		requests []persistence.ApprovalRequest
		total    int
	)
	err := r.retry.WithRetry(ctx, func() error {
		var err error
		requests, total, err = r.listRequests(ctx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

func (r *ApprovalRepository) listRequests(ctx context.Context, filter persistence.ApprovalFilter) ([]persistence.ApprovalRequest, int, error) {
	where, args := approvalWhere(filter)

	var total int
	if err := r.helper.QueryRow(ctx, `SELECT COUNT(*) FROM approval_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, r.mapper.MapError(err)
	}

	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + approvalColumns + ` FROM approval_requests` + where +
		fmt.Sprintf(` ORDER BY created_at %s, id %s LIMIT ? OFFSET ?`, direction, direction)
	rows, err := r.helper.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	defer rows.Close()

	var requests []persistence.ApprovalRequest
	for rows.Next() {
		request, err := scanApproval(rows)
		if err != nil {
			return nil, 0, r.mapper.MapError(err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	return requests, total, nil
}

func approvalWhere(filter persistence.ApprovalFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.ApplicantID != "" {
		clauses = append(clauses, "applicant_id = ?")
		args = append(args, filter.ApplicantID)
	}
	if len(filter.RTIDs) > 0 {
		clauses = append(clauses, "rt_id IN ("+placeholders(len(filter.RTIDs))+")")
		for _, id := range filter.RTIDs {
			args = append(args, id)
		}
	}
	if len(filter.RWIDs) > 0 {
		clauses = append(clauses, "rw_id IN ("+placeholders(len(filter.RWIDs))+")")
		for _, id := range filter.RWIDs {
			args = append(args, id)
		}
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (persistence.ApprovalRequest, error) {
	var (
		request                            persistence.ApprovalRequest
		rtApprover, rtAction, rtNotes      sql.NullString
		rwApprover, rwAction, rwNotes      sql.NullString
		rtDecidedAt, rwDecidedAt, rejected sql.NullString
		createdAt, updatedAt               string
	)
	err := row.Scan(
		&request.ID,
		&request.CategoryID,
		&request.ApplicantID,
		&request.RTID,
		&request.RWID,
		&request.Reason,
		&request.Status,
		&rtApprover, &rtAction, &rtNotes, &rtDecidedAt,
		&rwApprover, &rwAction, &rwNotes, &rwDecidedAt,
		&rejected,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.ApprovalRequest{}, err
	}

	request.RTApproverID = stringPtr(rtApprover)
	request.RTAction = stringPtr(rtAction)
	request.RTNotes = stringPtr(rtNotes)
	request.RWApproverID = stringPtr(rwApprover)
	request.RWAction = stringPtr(rwAction)
	request.RWNotes = stringPtr(rwNotes)
	request.RejectedAt = stringPtr(rejected)
	if request.RTDecidedAt, err = parseTimePtr(rtDecidedAt); err != nil {
		return persistence.ApprovalRequest{}, fmt.Errorf("failed to parse rt_decided_at: %w", err)
	}
	if request.RWDecidedAt, err = parseTimePtr(rwDecidedAt); err != nil {
		return persistence.ApprovalRequest{}, fmt.Errorf("failed to parse rw_decided_at: %w", err)
	}
	if request.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ApprovalRequest{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if request.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.ApprovalRequest{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return request, nil
}
