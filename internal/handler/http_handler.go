package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/repository"
	"github.com/parishledger/be-money-requests/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	requests  *service.RequestService
	workflow  *service.WorkflowService
	templates *repository.TemplateRepository
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	requests *service.RequestService,
	workflow *service.WorkflowService,
	templates *repository.TemplateRepository,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		requests:  requests,
		workflow:  workflow,
		templates: templates,
		validate:  validator.New(),
		log:       log,
	}
}

// ── Response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperr.CodeNotAuthorized:
		status = http.StatusForbidden
	case apperr.CodeConflict, apperr.CodeStepAlreadyDecided:
		status = http.StatusConflict
	case apperr.CodeTemplateNotFound:
		status = http.StatusUnprocessableEntity
	}

	resp := errorResponse{Code: code, Message: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		resp.Message = e.Message
		resp.Field = e.Field
	}
	writeJSON(w, status, resp)
}

// actingUser returns the X-User-Id header, writing a 401 when absent.
func actingUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:    "unauthenticated",
			Message: "X-User-Id header is required",
		})
		return "", false
	}
	return userID, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    apperr.CodeInvalidInput,
			Message: "invalid request body",
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    apperr.CodeInvalidInput,
			Message: err.Error(),
		})
		return false
	}
	return true
}

// ── Money requests ───────────────────────────────────────────────────────────

type createRequestDTO struct {
	DepartmentID   string   `json:"department_id" validate:"required"`
	FundID         string   `json:"fund_id" validate:"required"`
	Amount         string   `json:"amount" validate:"required"`
	Purpose        string   `json:"purpose" validate:"required"`
	Vendor         *string  `json:"vendor"`
	Project        *string  `json:"project"`
	BudgetCode     *string  `json:"budget_code"`
	Priority       string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AttachmentURLs []string `json:"attachment_urls" validate:"omitempty,dive,url"`
}

// CreateRequest handles POST /api/v1/requests.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var dto createRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}

	amount, err := decimal.NewFromString(dto.Amount)
	if err != nil {
		writeError(w, apperr.InvalidInput("amount", "amount must be a decimal number"))
		return
	}

	req, err := h.requests.Create(r.Context(), &service.CreateRequestInput{
		RequesterID:    userID,
		DepartmentID:   dto.DepartmentID,
		FundID:         dto.FundID,
		Amount:         amount,
		Purpose:        dto.Purpose,
		Vendor:         dto.Vendor,
		Project:        dto.Project,
		BudgetCode:     dto.BudgetCode,
		Priority:       repository.Priority(dto.Priority),
		AttachmentURLs: dto.AttachmentURLs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetRequest handles GET /api/v1/requests/get?id=.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperr.InvalidInput("id", "request id is required"))
		return
	}

	req, err := h.requests.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequests handles GET /api/v1/requests with filters.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.RequestFilter{
		RequesterID:  q.Get("requester_id"),
		DepartmentID: q.Get("department_id"),
		Search:       q.Get("search"),
	}

	for _, s := range splitList(q.Get("statuses")) {
		filter.Statuses = append(filter.Statuses, repository.RequestStatus(s))
	}
	for _, p := range splitList(q.Get("priorities")) {
		filter.Priorities = append(filter.Priorities, repository.Priority(p))
	}

	var err error
	if filter.MinAmount, err = parseDecimal(q.Get("min_amount")); err != nil {
		writeError(w, apperr.InvalidInput("min_amount", "must be a decimal number"))
		return
	}
	if filter.MaxAmount, err = parseDecimal(q.Get("max_amount")); err != nil {
		writeError(w, apperr.InvalidInput("max_amount", "must be a decimal number"))
		return
	}
	if filter.CreatedFrom, err = parseDate(q.Get("from_date")); err != nil {
		writeError(w, apperr.InvalidInput("from_date", "expected YYYY-MM-DD"))
		return
	}
	if filter.CreatedTo, err = parseDate(q.Get("to_date")); err != nil {
		writeError(w, apperr.InvalidInput("to_date", "expected YYYY-MM-DD"))
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	requests, total, err := h.requests.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":  requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type submitRequestDTO struct {
	RequestID string `json:"request_id" validate:"required"`
}

// SubmitRequest handles POST /api/v1/requests/submit: builds the approval
// chain and moves the request to its first pending status.
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var dto submitRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}

	steps, err := h.workflow.Submit(r.Context(), userID, dto.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

type decideDTO struct {
	StepID   string  `json:"step_id" validate:"required"`
	Approved *bool   `json:"approved" validate:"required"`
	Comment  *string `json:"comment"`
}

// DecideStep handles POST /api/v1/requests/decide.
func (h *HTTPHandler) DecideStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var dto decideDTO
	if !h.decode(w, r, &dto) {
		return
	}

	newStatus, err := h.workflow.Decide(r.Context(), userID, dto.StepID, *dto.Approved, dto.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": newStatus})
}

// ListSteps handles GET /api/v1/requests/steps?request_id=.
func (h *HTTPHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, apperr.InvalidInput("request_id", "request id is required"))
		return
	}

	steps, err := h.workflow.ListSteps(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	out := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		out = append(out, map[string]any{
			"step":    s,
			"overdue": s.IsOverdue(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": out})
}

// CurrentStep handles GET /api/v1/requests/current-step?request_id=.
func (h *HTTPHandler) CurrentStep(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, apperr.InvalidInput("request_id", "request id is required"))
		return
	}

	step, err := h.workflow.CurrentStep(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current_step": step})
}

// CanDecide handles GET /api/v1/requests/can-decide?request_id=.
func (h *HTTPHandler) CanDecide(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, apperr.InvalidInput("request_id", "request id is required"))
		return
	}

	can, err := h.workflow.CanDecide(r.Context(), userID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"can_decide": can})
}

// PendingApprovals handles GET /api/v1/requests/pending-approvals.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	requests, err := h.workflow.PendingForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

type markPaidDTO struct {
	RequestID string `json:"request_id" validate:"required"`
}

// MarkPaid handles POST /api/v1/requests/mark-paid.
func (h *HTTPHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}

	var dto markPaidDTO
	if !h.decode(w, r, &dto) {
		return
	}

	if err := h.workflow.MarkPaid(r.Context(), userID, dto.RequestID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// DeleteRequest handles DELETE /api/v1/requests/delete?id=.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperr.InvalidInput("id", "request id is required"))
		return
	}

	if err := h.requests.Delete(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestHistory handles GET /api/v1/requests/history?request_id=.
func (h *HTTPHandler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, apperr.InvalidInput("request_id", "request id is required"))
		return
	}

	entries, err := h.requests.History(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// ── Approval templates ───────────────────────────────────────────────────────

type templateStepDTO struct {
	Order int    `json:"order" validate:"required,min=1"`
	Role  string `json:"role" validate:"required"`
}

type templateDTO struct {
	DepartmentID string            `json:"department_id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	MaxAmount    *string           `json:"max_amount"`
	Steps        []templateStepDTO `json:"steps" validate:"required,min=1,dive"`
	StepSLAHours *int              `json:"step_sla_hours" validate:"omitempty,min=1"`
	IsActive     *bool             `json:"is_active"`
}

func (dto *templateDTO) toTemplate() (*repository.ApprovalTemplate, error) {
	t := &repository.ApprovalTemplate{
		DepartmentID: dto.DepartmentID,
		Name:         dto.Name,
		StepSLAHours: dto.StepSLAHours,
		IsActive:     true,
	}
	if dto.IsActive != nil {
		t.IsActive = *dto.IsActive
	}
	if dto.MaxAmount != nil {
		max, err := decimal.NewFromString(*dto.MaxAmount)
		if err != nil {
			return nil, apperr.InvalidInput("max_amount", "must be a decimal number")
		}
		t.MaxAmount = &max
	}
	for _, s := range dto.Steps {
		t.Steps = append(t.Steps, repository.TemplateStep{Order: s.Order, Role: s.Role})
	}
	return t, nil
}

// CreateTemplate handles POST /api/v1/templates.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var dto templateDTO
	if !h.decode(w, r, &dto) {
		return
	}

	t, err := dto.toTemplate()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.templates.Create(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// UpdateTemplate handles PUT /api/v1/templates/update?id=.
func (h *HTTPHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperr.InvalidInput("id", "template id is required"))
		return
	}

	var dto templateDTO
	if !h.decode(w, r, &dto) {
		return
	}

	t, err := dto.toTemplate()
	if err != nil {
		writeError(w, err)
		return
	}
	t.ID = id
	if err := h.templates.Update(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTemplates handles GET /api/v1/templates?department_id=.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	departmentID := r.URL.Query().Get("department_id")
	if departmentID == "" {
		writeError(w, apperr.InvalidInput("department_id", "department id is required"))
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	templates, err := h.templates.ListByDepartment(r.Context(), departmentID, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// GetTemplate handles GET /api/v1/templates/get?id=.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperr.InvalidInput("id", "template id is required"))
		return
	}

	t, err := h.templates.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /api/v1/templates/delete?id=.
func (h *HTTPHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperr.InvalidInput("id", "template id is required"))
		return
	}

	if err := h.templates.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Parse helpers ────────────────────────────────────────────────────────────

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDecimal(v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
