package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/repository"
)

// RequestWriter extends RequestStore with the lifecycle operations outside
// the approval chain.
type RequestWriter interface {
	RequestStore
	Create(ctx context.Context, req *repository.MoneyRequest) error
	List(ctx context.Context, filter repository.RequestFilter) ([]*repository.MoneyRequest, int64, error)
	Delete(ctx context.Context, id string) error
}

// HistoryLister reads a request's status trail.
type HistoryLister interface {
	ListByRequestID(ctx context.Context, requestID string) ([]*repository.StatusHistoryEntry, error)
}

// RequestService handles money-request business logic outside the chain.
type RequestService struct {
	requests  RequestWriter
	history   HistoryLister
	directory DirectoryClient
	overrides map[string]bool
	log       zerolog.Logger
}

// NewRequestService creates a new RequestService.
func NewRequestService(
	requests RequestWriter,
	history HistoryLister,
	directory DirectoryClient,
	overrideRoles []string,
	log zerolog.Logger,
) *RequestService {
	overrides := make(map[string]bool, len(overrideRoles))
	for _, role := range overrideRoles {
		overrides[role] = true
	}
	return &RequestService{
		requests:  requests,
		history:   history,
		directory: directory,
		overrides: overrides,
		log:       log,
	}
}

// CreateRequestInput carries the fields a requester supplies.
type CreateRequestInput struct {
	RequesterID    string
	DepartmentID   string
	FundID         string
	Amount         decimal.Decimal
	Purpose        string
	Vendor         *string
	Project        *string
	BudgetCode     *string
	Priority       repository.Priority
	AttachmentURLs []string
}

// Create validates the input and stores a draft request.
func (s *RequestService) Create(ctx context.Context, in *CreateRequestInput) (*repository.MoneyRequest, error) {
	if in.RequesterID == "" {
		return nil, apperr.InvalidInput("requester_id", "requester is required")
	}
	if in.DepartmentID == "" {
		return nil, apperr.InvalidInput("department_id", "department is required")
	}
	if in.FundID == "" {
		return nil, apperr.InvalidInput("fund_id", "fund is required")
	}
	if in.Amount.Sign() <= 0 {
		return nil, apperr.InvalidInput("amount", "amount must be positive")
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, apperr.InvalidInput("purpose", "purpose must not be empty")
	}
	if in.Priority == "" {
		in.Priority = repository.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, apperr.InvalidInput("priority", "priority must be one of low, medium, high, urgent")
	}

	req := &repository.MoneyRequest{
		RequesterID:    in.RequesterID,
		DepartmentID:   in.DepartmentID,
		FundID:         in.FundID,
		Amount:         in.Amount,
		Purpose:        strings.TrimSpace(in.Purpose),
		Vendor:         in.Vendor,
		Project:        in.Project,
		BudgetCode:     in.BudgetCode,
		Priority:       in.Priority,
		AttachmentURLs: in.AttachmentURLs,
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("department_id", req.DepartmentID).
		Str("requester_id", req.RequesterID).
		Str("amount", req.Amount.String()).
		Msg("Money request created")

	return req, nil
}

// Get retrieves a request by ID.
func (s *RequestService) Get(ctx context.Context, id string) (*repository.MoneyRequest, error) {
	return s.requests.GetByID(ctx, id)
}

// List retrieves requests matching the filter.
func (s *RequestService) List(ctx context.Context, filter repository.RequestFilter) ([]*repository.MoneyRequest, int64, error) {
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.requests.List(ctx, filter)
}

// Delete removes a request that has not entered the chain. The requester may
// delete their own; override roles may delete any.
func (s *RequestService) Delete(ctx context.Context, actorID, id string) error {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if actorID != req.RequesterID {
		role, err := s.directory.GetUserRole(ctx, actorID)
		if err != nil {
			return err
		}
		if !s.overrides[role] {
			return apperr.New(apperr.CodeNotAuthorized, "not authorized to delete this request")
		}
	}

	if req.Status != repository.StatusDraft && req.Status != repository.StatusSubmitted {
		return apperr.Newf(apperr.CodeConflict,
			"cannot delete request with status %q", req.Status)
	}

	if err := s.requests.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("request_id", id).
		Str("deleted_by", actorID).
		Msg("Money request deleted")

	return nil
}

// History returns a request's status trail oldest-first.
func (s *RequestService) History(ctx context.Context, requestID string) ([]*repository.StatusHistoryEntry, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.history.ListByRequestID(ctx, requestID)
}
