package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/database"
)

// TemplateRepository handles CRUD for approval_templates.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// NormalizeTemplate validates the step list and derives each step's stored
// pending status. Orders must form a contiguous 1..N sequence.
func NormalizeTemplate(t *ApprovalTemplate) error {
	if len(t.Steps) == 0 {
		return apperr.InvalidInput("steps", "template must have at least 1 step")
	}

	sort.Slice(t.Steps, func(i, j int) bool { return t.Steps[i].Order < t.Steps[j].Order })
	for i := range t.Steps {
		step := &t.Steps[i]
		if step.Order != i+1 {
			return apperr.InvalidInput("steps",
				fmt.Sprintf("step orders must be contiguous starting at 1, got %d at position %d", step.Order, i+1))
		}
		if step.Role == "" {
			return apperr.InvalidInput("steps", fmt.Sprintf("step %d has no role", step.Order))
		}
		if step.PendingStatus == "" {
			step.PendingStatus = fmt.Sprintf("pending_%s_approval", step.Role)
		}
	}

	if t.MaxAmount != nil && t.MaxAmount.Sign() <= 0 {
		return apperr.InvalidInput("max_amount", "tier bound must be positive")
	}
	return nil
}

// Create inserts a new approval template.
func (r *TemplateRepository) Create(ctx context.Context, t *ApprovalTemplate) error {
	if err := NormalizeTemplate(t); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(t.Steps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal template steps")
	}
	t.ID = uuid.NewString()

	query := `
		INSERT INTO approval_templates
		    (id, department_id, name, max_amount, steps, step_sla_hours, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return r.db.Runner(ctx).QueryRow(ctx, query,
		t.ID,
		t.DepartmentID,
		t.Name,
		t.MaxAmount,
		stepsJSON,
		t.StepSLAHours,
		t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByID retrieves a template by primary key.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*ApprovalTemplate, error) {
	query := `
		SELECT id, department_id, name, max_amount, steps, step_sla_hours,
		       is_active, created_at, updated_at
		FROM approval_templates
		WHERE id = $1
	`

	t, err := scanTemplate(r.db.Runner(ctx).QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_template", id)
	}
	return t, err
}

// ListByDepartment returns a department's templates, optionally active only,
// ordered by tier bound (open-ended tier last).
func (r *TemplateRepository) ListByDepartment(ctx context.Context, departmentID string, activeOnly bool) ([]*ApprovalTemplate, error) {
	query := `
		SELECT id, department_id, name, max_amount, steps, step_sla_hours,
		       is_active, created_at, updated_at
		FROM approval_templates
		WHERE department_id = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY max_amount ASC NULLS LAST, name ASC"

	rows, err := r.db.Runner(ctx).Query(ctx, query, departmentID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list approval templates")
	}
	defer rows.Close()

	var templates []*ApprovalTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval template")
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// FindForSubmission selects the template used to build a chain: the active
// template for the department whose tier is the tightest bound covering the
// amount. Returns template_not_found when the department has no covering tier.
func (r *TemplateRepository) FindForSubmission(ctx context.Context, departmentID string, amount decimal.Decimal) (*ApprovalTemplate, error) {
	// Load the department's active tiers ordered by bound; match in Go to
	// keep the SQL simple.
	templates, err := r.ListByDepartment(ctx, departmentID, true)
	if err != nil {
		return nil, err
	}

	if t := matchTemplate(templates, amount); t != nil {
		return t, nil
	}
	return nil, apperr.Newf(apperr.CodeTemplateNotFound,
		"no approval template covers amount %s for department %s", amount.String(), departmentID)
}

// matchTemplate picks the first covering tier from a list already ordered by
// max_amount ascending with open-ended tiers last.
func matchTemplate(templates []*ApprovalTemplate, amount decimal.Decimal) *ApprovalTemplate {
	for _, t := range templates {
		if t.Covers(amount) {
			return t
		}
	}
	return nil
}

// Update persists changes to an existing template.
func (r *TemplateRepository) Update(ctx context.Context, t *ApprovalTemplate) error {
	if err := NormalizeTemplate(t); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(t.Steps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal template steps")
	}

	query := `
		UPDATE approval_templates
		SET name           = $2,
		    max_amount     = $3,
		    steps          = $4,
		    step_sla_hours = $5,
		    is_active      = $6,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.Runner(ctx).QueryRow(ctx, query,
		t.ID,
		t.Name,
		t.MaxAmount,
		stepsJSON,
		t.StepSLAHours,
		t.IsActive,
	).Scan(&t.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_template", t.ID)
	}
	return err
}

// Delete removes a template. Existing chains keep their copied steps, so
// deletion never touches in-flight requests.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Runner(ctx).Exec(ctx, `DELETE FROM approval_templates WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to delete approval template")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval_template", id)
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row templateScanner) (*ApprovalTemplate, error) {
	t := &ApprovalTemplate{}
	var stepsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.DepartmentID,
		&t.Name,
		&t.MaxAmount,
		&stepsJSON,
		&t.StepSLAHours,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &t.Steps); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal template steps")
	}
	return t, nil
}
