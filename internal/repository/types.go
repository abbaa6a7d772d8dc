package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the money-request approval workflow ─────────────────────

// RequestStatus is the lifecycle status of a money request. Draft, submitted
// and the terminal values are fixed; the pending values are derived from the
// approval template at chain-construction time and stored, never recomputed.
type RequestStatus string

const (
	StatusDraft     RequestStatus = "draft"
	StatusSubmitted RequestStatus = "submitted"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusPaid      RequestStatus = "paid"
)

// IsTerminal reports whether no workflow transition can leave s. Approved is
// terminal for the chain; the explicit mark-paid action may still follow it.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusPaid
}

// IsPending reports whether s is one of the per-role pending statuses.
func (s RequestStatus) IsPending() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusPaid:
		return false
	}
	return s != ""
}

// StepDecision is the three-way outcome of an approval step.
type StepDecision string

const (
	DecisionPending  StepDecision = "pending"
	DecisionApproved StepDecision = "approved"
	DecisionRejected StepDecision = "rejected"
)

// Priority of a money request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// MoneyRequest is a departmental request for funds.
type MoneyRequest struct {
	ID             string
	RequesterID    string
	DepartmentID   string
	FundID         string
	Amount         decimal.Decimal
	Purpose        string
	Vendor         *string
	Project        *string
	BudgetCode     *string
	Priority       Priority
	Status         RequestStatus
	AttachmentURLs []string
	SubmittedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApprovalStep is one role-gated step in a request's approval chain. The
// chain is created in bulk at submission; only the decision fields mutate.
type ApprovalStep struct {
	ID            string
	RequestID     string
	StepOrder     int
	ApproverRole  string
	PendingStatus RequestStatus // request status while this step is current
	Decision      StepDecision
	DecidedBy     *string
	DecidedAt     *time.Time
	Comment       *string
	DueAt         *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOverdue reports whether the step is still pending past its due date.
// Overdue detection is a read-time computation, not a background process.
func (s *ApprovalStep) IsOverdue(now time.Time) bool {
	return s.Decision == DecisionPending && s.DueAt != nil && now.After(*s.DueAt)
}

// TemplateStep is one entry in a template's ordered role list, stored as a
// JSONB array on the template row.
type TemplateStep struct {
	Order         int    `json:"order"`
	Role          string `json:"role"`
	PendingStatus string `json:"pending_status"`
}

// ApprovalTemplate maps a department and amount tier to an ordered list of
// approver roles. Templates are read-only configuration at submission time.
type ApprovalTemplate struct {
	ID           string
	DepartmentID string
	Name         string
	// MaxAmount is the tier's inclusive upper bound; nil means the tier is
	// open-ended. Submission picks the smallest tier covering the amount.
	MaxAmount    *decimal.Decimal
	Steps        []TemplateStep
	StepSLAHours *int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Covers reports whether the tier admits the given amount.
func (t *ApprovalTemplate) Covers(amount decimal.Decimal) bool {
	return t.MaxAmount == nil || amount.LessThanOrEqual(*t.MaxAmount)
}

// FundType holds a fund's running balance. The terminal-approve debit is the
// only mutation the workflow performs on it.
type FundType struct {
	ID             string
	Name           string
	CurrentBalance decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusHistoryEntry is one immutable record of a request status change.
type StatusHistoryEntry struct {
	ID        string
	RequestID string
	OldStatus RequestStatus
	NewStatus RequestStatus
	ChangedBy string
	Note      *string
	ChangedAt time.Time
}

// RequestFilter narrows ListRequests. Zero values mean "no constraint".
type RequestFilter struct {
	RequesterID  string
	DepartmentID string
	Statuses     []RequestStatus
	Priorities   []Priority
	MinAmount    *decimal.Decimal
	MaxAmount    *decimal.Decimal
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	// Search matches purpose, vendor and project, case-insensitively.
	Search string
	Limit  int
	Offset int
}
