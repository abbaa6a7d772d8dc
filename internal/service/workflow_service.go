package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/repository"
)

// Store interfaces consumed by the engine. The pgx repositories implement
// them; tests substitute in-memory fakes.

// TemplateStore resolves the approval template for a submission.
type TemplateStore interface {
	FindForSubmission(ctx context.Context, departmentID string, amount decimal.Decimal) (*repository.ApprovalTemplate, error)
}

// RequestStore reads and mutates money requests.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*repository.MoneyRequest, error)
	UpdateStatus(ctx context.Context, id string, status repository.RequestStatus) error
	ListPendingForRole(ctx context.Context, role string, override bool) ([]*repository.MoneyRequest, error)
}

// ChainStore reads and mutates approval chains.
type ChainStore interface {
	CreateSteps(ctx context.Context, requestID string, steps []*repository.ApprovalStep) error
	GetByRequestID(ctx context.Context, requestID string) ([]*repository.ApprovalStep, error)
	GetByID(ctx context.Context, id string) (*repository.ApprovalStep, error)
	DecideStep(ctx context.Context, id string, decision repository.StepDecision, decidedBy string, comment *string) error
}

// FundStore applies the terminal-approve debit.
type FundStore interface {
	Debit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error)
}

// HistoryStore appends status history entries.
type HistoryStore interface {
	Append(ctx context.Context, entry *repository.StatusHistoryEntry) error
}

// Transactor runs fn atomically; store calls made with the ctx passed to fn
// join the same transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DirectoryClient resolves a user's role from the member directory.
type DirectoryClient interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// Notifier publishes workflow events. Fire-and-forget: implementations never
// return errors to the caller.
type Notifier interface {
	PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, payload map[string]any)
}

// WorkflowService owns the money-request approval lifecycle: chain
// construction at submission, sequential step gating, decision recording and
// the fund debit on final approval.
type WorkflowService struct {
	tx        Transactor
	templates TemplateStore
	requests  RequestStore
	chain     ChainStore
	funds     FundStore
	history   HistoryStore
	directory DirectoryClient
	notifier  Notifier
	overrides map[string]bool
	log       zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService. Users holding one of
// overrideRoles may act on any step regardless of its required role.
func NewWorkflowService(
	tx Transactor,
	templates TemplateStore,
	requests RequestStore,
	chain ChainStore,
	funds FundStore,
	history HistoryStore,
	directory DirectoryClient,
	notifier Notifier,
	overrideRoles []string,
	log zerolog.Logger,
) *WorkflowService {
	overrides := make(map[string]bool, len(overrideRoles))
	for _, role := range overrideRoles {
		overrides[role] = true
	}
	return &WorkflowService{
		tx:        tx,
		templates: templates,
		requests:  requests,
		chain:     chain,
		funds:     funds,
		history:   history,
		directory: directory,
		notifier:  notifier,
		overrides: overrides,
		log:       log,
	}
}

// ── Submission / chain construction ──────────────────────────────────────────

// Submit builds the approval chain for a draft request from the department's
// template and moves the request to the first pending status. Atomic: a
// failure leaves the request in draft with no steps.
func (s *WorkflowService) Submit(ctx context.Context, actorID, requestID string) ([]*repository.ApprovalStep, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.StatusDraft && req.Status != repository.StatusSubmitted {
		return nil, apperr.Newf(apperr.CodeConflict,
			"cannot submit request with status %q", req.Status)
	}

	if actorID != req.RequesterID {
		role, err := s.directory.GetUserRole(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if !s.overrides[role] {
			return nil, apperr.New(apperr.CodeNotAuthorized, "only the requester can submit this request")
		}
	}

	if req.Amount.Sign() <= 0 {
		return nil, apperr.InvalidInput("amount", "amount must be positive")
	}
	if req.Purpose == "" {
		return nil, apperr.InvalidInput("purpose", "purpose must not be empty")
	}

	tmpl, err := s.templates.FindForSubmission(ctx, req.DepartmentID, req.Amount)
	if err != nil {
		return nil, err
	}

	steps := buildChain(tmpl, time.Now())
	firstStatus := steps[0].PendingStatus

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.chain.CreateSteps(ctx, req.ID, steps); err != nil {
			return err
		}
		if err := s.requests.UpdateStatus(ctx, req.ID, firstStatus); err != nil {
			return err
		}
		return s.history.Append(ctx, &repository.StatusHistoryEntry{
			RequestID: req.ID,
			OldStatus: repository.StatusSubmitted,
			NewStatus: firstStatus,
			ChangedBy: actorID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("template_id", tmpl.ID).
		Int("total_steps", len(steps)).
		Str("status", string(firstStatus)).
		Msg("Approval chain created")

	s.publish(ctx, "request_submitted", req.ID, actorID, map[string]any{
		"total_steps": len(steps),
		"first_role":  steps[0].ApproverRole,
	})

	return steps, nil
}

// buildChain converts a template into the chain for one request, deriving the
// due date from the template's per-step SLA when configured.
func buildChain(tmpl *repository.ApprovalTemplate, now time.Time) []*repository.ApprovalStep {
	steps := make([]*repository.ApprovalStep, 0, len(tmpl.Steps))
	for i, def := range tmpl.Steps {
		step := &repository.ApprovalStep{
			StepOrder:     i + 1,
			ApproverRole:  def.Role,
			PendingStatus: repository.RequestStatus(def.PendingStatus),
			Decision:      repository.DecisionPending,
		}
		if tmpl.StepSLAHours != nil {
			due := now.Add(time.Duration(*tmpl.StepSLAHours) * time.Hour)
			step.DueAt = &due
		}
		steps = append(steps, step)
	}
	return steps
}

// ── Step gating ──────────────────────────────────────────────────────────────

// CurrentStepOf returns the step eligible to act now: the lowest-order
// pending step, unless a rejection has already stopped the chain. Returns nil
// when the chain is complete or stopped.
func CurrentStepOf(steps []*repository.ApprovalStep) *repository.ApprovalStep {
	for _, step := range steps {
		switch step.Decision {
		case repository.DecisionRejected:
			return nil
		case repository.DecisionPending:
			return step
		}
	}
	return nil
}

// ListSteps returns a request's chain ordered by step_order.
func (s *WorkflowService) ListSteps(ctx context.Context, requestID string) ([]*repository.ApprovalStep, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	steps, err := s.chain.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := VerifyChain(steps); err != nil {
		s.log.Warn().
			Str("request_id", requestID).
			Err(err).
			Msg("Approval chain failed verification")
	}
	return steps, nil
}

// CurrentStep returns the actionable step of a request, or nil.
func (s *WorkflowService) CurrentStep(ctx context.Context, requestID string) (*repository.ApprovalStep, error) {
	steps, err := s.ListSteps(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return CurrentStepOf(steps), nil
}

// CanDecide reports whether the user may act on the request's current step.
func (s *WorkflowService) CanDecide(ctx context.Context, userID, requestID string) (bool, error) {
	steps, err := s.ListSteps(ctx, requestID)
	if err != nil {
		return false, err
	}
	cur := CurrentStepOf(steps)
	if cur == nil {
		return false, nil
	}

	role, err := s.directory.GetUserRole(ctx, userID)
	if err != nil {
		return false, err
	}
	return role == cur.ApproverRole || s.overrides[role], nil
}

// ── Decision recording ───────────────────────────────────────────────────────

// Decide records an approval or rejection on a step and returns the request's
// new status. The step decision, the request status, the fund debit on final
// approval and the history entry are one transaction.
func (s *WorkflowService) Decide(ctx context.Context, userID, stepID string, approved bool, comment *string) (repository.RequestStatus, error) {
	step, err := s.chain.GetByID(ctx, stepID)
	if err != nil {
		return "", err
	}
	if step.Decision != repository.DecisionPending {
		return "", apperr.New(apperr.CodeStepAlreadyDecided, "step has already been decided")
	}

	req, err := s.requests.GetByID(ctx, step.RequestID)
	if err != nil {
		return "", err
	}
	steps, err := s.chain.GetByRequestID(ctx, step.RequestID)
	if err != nil {
		return "", err
	}

	cur := CurrentStepOf(steps)
	if cur == nil || cur.ID != step.ID {
		return "", apperr.Newf(apperr.CodeNotAuthorized,
			"step %d is not the current step", step.StepOrder)
	}

	role, err := s.directory.GetUserRole(ctx, userID)
	if err != nil {
		return "", err
	}
	if role != step.ApproverRole && !s.overrides[role] {
		return "", apperr.Newf(apperr.CodeNotAuthorized,
			"role %q cannot act on a step requiring %q", role, step.ApproverRole)
	}

	decision := repository.DecisionRejected
	newStatus := repository.StatusRejected
	if approved {
		decision = repository.DecisionApproved
		if next := nextStep(steps, step.StepOrder); next != nil {
			newStatus = next.PendingStatus
		} else {
			newStatus = repository.StatusApproved
		}
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		// Conditional update: the racing loser fails here with
		// step_already_decided and nothing below runs.
		if err := s.chain.DecideStep(ctx, step.ID, decision, userID, comment); err != nil {
			return err
		}
		if err := s.requests.UpdateStatus(ctx, req.ID, newStatus); err != nil {
			return err
		}
		if newStatus == repository.StatusApproved {
			balance, err := s.funds.Debit(ctx, req.FundID, req.Amount)
			if err != nil {
				return err
			}
			if balance.Sign() < 0 {
				s.log.Warn().
					Str("request_id", req.ID).
					Str("fund_id", req.FundID).
					Str("balance", balance.String()).
					Msg("Fund balance went negative")
			}
		}
		return s.history.Append(ctx, &repository.StatusHistoryEntry{
			RequestID: req.ID,
			OldStatus: req.Status,
			NewStatus: newStatus,
			ChangedBy: userID,
			Note:      comment,
		})
	})
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("step_id", step.ID).
		Int("step_order", step.StepOrder).
		Str("decision", string(decision)).
		Str("status", string(newStatus)).
		Str("decided_by", userID).
		Msg("Approval decision recorded")

	event := "request_rejected"
	if approved {
		event = "step_approved"
		if newStatus == repository.StatusApproved {
			event = "request_approved"
		}
	}
	s.publish(ctx, event, req.ID, userID, map[string]any{
		"step_order": step.StepOrder,
		"status":     string(newStatus),
	})

	return newStatus, nil
}

// nextStep returns the step following order, or nil when order is the last.
func nextStep(steps []*repository.ApprovalStep, order int) *repository.ApprovalStep {
	for _, step := range steps {
		if step.StepOrder == order+1 {
			return step
		}
	}
	return nil
}

// ── Post-approval / queries ──────────────────────────────────────────────────

// MarkPaid records the explicit approved → paid transition. Payment execution
// itself happens outside this service; only override roles may record it.
func (s *WorkflowService) MarkPaid(ctx context.Context, actorID, requestID string) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != repository.StatusApproved {
		return apperr.Newf(apperr.CodeConflict,
			"cannot mark request with status %q as paid", req.Status)
	}

	role, err := s.directory.GetUserRole(ctx, actorID)
	if err != nil {
		return err
	}
	if !s.overrides[role] {
		return apperr.New(apperr.CodeNotAuthorized, "not authorized to mark requests as paid")
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.requests.UpdateStatus(ctx, req.ID, repository.StatusPaid); err != nil {
			return err
		}
		return s.history.Append(ctx, &repository.StatusHistoryEntry{
			RequestID: req.ID,
			OldStatus: req.Status,
			NewStatus: repository.StatusPaid,
			ChangedBy: actorID,
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, "request_paid", req.ID, actorID, nil)
	return nil
}

// PendingForUser returns the requests whose current step awaits the user's
// role. A derived view, never stored.
func (s *WorkflowService) PendingForUser(ctx context.Context, userID string) ([]*repository.MoneyRequest, error) {
	role, err := s.directory.GetUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, nil
	}
	return s.requests.ListPendingForRole(ctx, role, s.overrides[role])
}

// HasOverrideRole reports whether the role may act at any step.
func (s *WorkflowService) HasOverrideRole(role string) bool {
	return s.overrides[role]
}

func (s *WorkflowService) publish(ctx context.Context, event, requestID, actorID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishRequestEvent(ctx, event, requestID, actorID, payload)
}

// VerifyChain checks the structural invariant on a loaded chain: step orders
// form a contiguous 1..N sequence.
func VerifyChain(steps []*repository.ApprovalStep) error {
	for i, step := range steps {
		if step.StepOrder != i+1 {
			return fmt.Errorf("chain is not contiguous: step %d has order %d", i+1, step.StepOrder)
		}
	}
	return nil
}
