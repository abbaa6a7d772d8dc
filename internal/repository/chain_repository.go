package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/database"
)

// ChainRepository handles a request's approval chain. Steps are created in
// bulk at submission and never added or removed afterward; the decision
// fields are the only mutable part.
type ChainRepository struct {
	db *database.DB
}

// NewChainRepository creates a new ChainRepository.
func NewChainRepository(db *database.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

const stepColumns = `
	id, request_id, step_order, approver_role, pending_status,
	decision, decided_by, decided_at, comment, due_at,
	created_at, updated_at`

// CreateSteps inserts the full chain for a request. Callers run this inside
// the submission transaction so the chain and the status change land together.
func (r *ChainRepository) CreateSteps(ctx context.Context, requestID string, steps []*ApprovalStep) error {
	query := `
		INSERT INTO approval_steps
		    (id, request_id, step_order, approver_role, pending_status,
		     decision, due_at)
		VALUES ($1, $2, $3, $4, $5, $6::approval_decision, $7)
		RETURNING created_at, updated_at
	`

	q := r.db.Runner(ctx)
	for _, step := range steps {
		step.ID = uuid.NewString()
		step.RequestID = requestID

		err := q.QueryRow(ctx, query,
			step.ID,
			step.RequestID,
			step.StepOrder,
			step.ApproverRole,
			step.PendingStatus,
			step.Decision,
			step.DueAt,
		).Scan(&step.CreatedAt, &step.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval step")
		}
	}
	return nil
}

// GetByRequestID returns a request's chain ordered by step_order.
func (r *ChainRepository) GetByRequestID(ctx context.Context, requestID string) ([]*ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Runner(ctx).Query(ctx, query, requestID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval chain")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// GetByID returns a single step.
func (r *ChainRepository) GetByID(ctx context.Context, id string) (*ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE id = $1
	`

	step, err := scanStep(r.db.Runner(ctx).QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_step", id)
	}
	return step, err
}

// DecideStep records a decision on a still-pending step. The WHERE clause is
// the serialization point: two reviewers racing on one step resolve here, and
// the loser gets step_already_decided.
func (r *ChainRepository) DecideStep(ctx context.Context, id string, decision StepDecision, decidedBy string, comment *string) error {
	query := `
		UPDATE approval_steps
		SET decision   = $2::approval_decision,
		    decided_by = $3,
		    decided_at = NOW(),
		    comment    = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND decision = 'pending'
		RETURNING id
	`

	var returnedID string
	err := r.db.Runner(ctx).QueryRow(ctx, query, id, decision, decidedBy, comment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.New(apperr.CodeStepAlreadyDecided, "step has already been decided")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record step decision")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func scanStep(row stepScanner) (*ApprovalStep, error) {
	s := &ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.StepOrder,
		&s.ApproverRole,
		&s.PendingStatus,
		&s.Decision,
		&s.DecidedBy,
		&s.DecidedAt,
		&s.Comment,
		&s.DueAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
