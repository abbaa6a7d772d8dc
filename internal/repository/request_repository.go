package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/database"
)

// RequestRepository handles money request data operations.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, requester_id, department_id, fund_id, amount, purpose,
	vendor, project, budget_code, priority, status,
	attachment_urls, submitted_at, created_at, updated_at`

// Create inserts a new request in draft status.
func (r *RequestRepository) Create(ctx context.Context, req *MoneyRequest) error {
	req.ID = uuid.NewString()
	req.Status = StatusDraft

	query := `
		INSERT INTO money_requests
		    (id, requester_id, department_id, fund_id, amount, purpose,
		     vendor, project, budget_code, priority, attachment_urls, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.Runner(ctx).QueryRow(ctx, query,
		req.ID,
		req.RequesterID,
		req.DepartmentID,
		req.FundID,
		req.Amount,
		req.Purpose,
		req.Vendor,
		req.Project,
		req.BudgetCode,
		req.Priority,
		req.AttachmentURLs,
		req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create money request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*MoneyRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM money_requests
		WHERE id = $1
	`

	req, err := scanRequest(r.db.Runner(ctx).QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("money_request", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get money request")
	}
	return req, nil
}

// List retrieves requests matching the filter, newest first, with the total
// count before pagination.
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter) ([]*MoneyRequest, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	argCount := 1

	addArg := func(clause string, value any) {
		where += fmt.Sprintf(clause, argCount)
		args = append(args, value)
		argCount++
	}

	if filter.RequesterID != "" {
		addArg(" AND requester_id = $%d", filter.RequesterID)
	}
	if filter.DepartmentID != "" {
		addArg(" AND department_id = $%d", filter.DepartmentID)
	}
	if len(filter.Statuses) > 0 {
		addArg(" AND status = ANY($%d)", statusStrings(filter.Statuses))
	}
	if len(filter.Priorities) > 0 {
		addArg(" AND priority = ANY($%d)", priorityStrings(filter.Priorities))
	}
	if filter.MinAmount != nil {
		addArg(" AND amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		addArg(" AND amount <= $%d", *filter.MaxAmount)
	}
	if filter.CreatedFrom != nil {
		addArg(" AND created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		addArg(" AND created_at <= $%d", *filter.CreatedTo)
	}
	if filter.Search != "" {
		where += fmt.Sprintf(
			" AND (purpose ILIKE $%d OR vendor ILIKE $%d OR project ILIKE $%d)",
			argCount, argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM money_requests` + where
	if err := r.db.Runner(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count money requests")
	}

	query := `SELECT` + requestColumns + ` FROM money_requests` + where +
		" ORDER BY created_at DESC" +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Runner(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list money requests")
	}
	defer rows.Close()

	var requests []*MoneyRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan money request")
		}
		requests = append(requests, req)
	}
	return requests, total, nil
}

// ListPendingForRole returns requests whose current step requires the given
// role. With override set, every request with an actionable current step
// matches. The current step is the lowest-order pending step of a chain that
// has no rejection.
func (r *RequestRepository) ListPendingForRole(ctx context.Context, role string, override bool) ([]*MoneyRequest, error) {
	query := `
		SELECT` + requestColumns + `
		FROM money_requests r
		WHERE EXISTS (
		    SELECT 1
		    FROM approval_steps s
		    WHERE s.request_id = r.id
		      AND s.decision = 'pending'
		      AND ($1 OR s.approver_role = $2)
		      AND s.step_order = (
		          SELECT MIN(x.step_order)
		          FROM approval_steps x
		          WHERE x.request_id = r.id AND x.decision = 'pending'
		      )
		)
		  AND NOT EXISTS (
		    SELECT 1 FROM approval_steps x
		    WHERE x.request_id = r.id AND x.decision = 'rejected'
		  )
		  AND r.status NOT IN ('draft', 'submitted', 'approved', 'rejected', 'paid')
		ORDER BY r.created_at ASC
	`

	rows, err := r.db.Runner(ctx).Query(ctx, query, override, role)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var requests []*MoneyRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan money request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// UpdateStatus sets the request status. Entering the chain stamps submitted_at.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, status RequestStatus) error {
	query := `
		UPDATE money_requests
		SET status       = $2,
		    submitted_at = CASE WHEN submitted_at IS NULL AND $2 NOT IN ('draft', 'submitted')
		                        THEN NOW() ELSE submitted_at END,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.Runner(ctx).QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("money_request", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update request status")
	}
	return nil
}

// Delete removes a request that has not entered the approval chain. Chains
// with recorded decisions are audit records and must survive, so only draft
// and submitted requests can go.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM money_requests
		WHERE id = $1 AND status IN ('draft', 'submitted')
	`

	tag, err := r.db.Runner(ctx).Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to delete money request")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeConflict, "cannot delete a request once approvals exist")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func statusStrings(statuses []RequestStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func priorityStrings(priorities []Priority) []string {
	out := make([]string, len(priorities))
	for i, p := range priorities {
		out[i] = string(p)
	}
	return out
}

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*MoneyRequest, error) {
	req := &MoneyRequest{}
	err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.DepartmentID,
		&req.FundID,
		&req.Amount,
		&req.Purpose,
		&req.Vendor,
		&req.Project,
		&req.BudgetCode,
		&req.Priority,
		&req.Status,
		&req.AttachmentURLs,
		&req.SubmittedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
