package service

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/repository"
)

type fakeRequestWriter struct{ fakeRequests }

func (f fakeRequestWriter) Create(_ context.Context, req *repository.MoneyRequest) error {
	req.ID = f.e.id("req")
	req.Status = repository.StatusDraft
	v := *req
	f.e.requests[req.ID] = &v
	return nil
}

func (f fakeRequestWriter) List(_ context.Context, filter repository.RequestFilter) ([]*repository.MoneyRequest, int64, error) {
	var all []*repository.MoneyRequest
	for _, req := range f.e.requests {
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.DepartmentID != "" && req.DepartmentID != filter.DepartmentID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(req.Purpose), strings.ToLower(filter.Search)) {
			continue
		}
		v := *req
		all = append(all, &v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	if filter.Offset < len(all) {
		all = all[filter.Offset:]
	} else {
		all = nil
	}
	if filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func (f fakeRequestWriter) Delete(_ context.Context, id string) error {
	if _, ok := f.e.requests[id]; !ok {
		return apperr.NotFound("money_request", id)
	}
	delete(f.e.requests, id)
	return nil
}

func newRequestService(e *env) *RequestService {
	return NewRequestService(
		fakeRequestWriter{fakeRequests{e}},
		fakeHistory{e},
		fakeDirectory{e},
		overrideRoles,
		zerolog.Nop(),
	)
}

func validInput() *CreateRequestInput {
	return &CreateRequestInput{
		RequesterID:  "user-requester",
		DepartmentID: "youth",
		FundID:       "fund-general",
		Amount:       dec(300),
		Purpose:      "  Summer camp supplies  ",
	}
}

func TestCreateRequest(t *testing.T) {
	e := newEnv()
	svc := newRequestService(e)

	req, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, repository.StatusDraft, e.requests[req.ID].Status)
	assert.Equal(t, "Summer camp supplies", req.Purpose)
	assert.Equal(t, repository.PriorityMedium, req.Priority, "priority defaults to medium")
}

func TestCreateRequestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(in *CreateRequestInput)
		field  string
	}{
		{"missing requester", func(in *CreateRequestInput) { in.RequesterID = "" }, "requester_id"},
		{"missing department", func(in *CreateRequestInput) { in.DepartmentID = "" }, "department_id"},
		{"missing fund", func(in *CreateRequestInput) { in.FundID = "" }, "fund_id"},
		{"zero amount", func(in *CreateRequestInput) { in.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(in *CreateRequestInput) { in.Amount = dec(-5) }, "amount"},
		{"blank purpose", func(in *CreateRequestInput) { in.Purpose = "   " }, "purpose"},
		{"unknown priority", func(in *CreateRequestInput) { in.Priority = "asap" }, "priority"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			svc := newRequestService(e)

			in := validInput()
			tc.mutate(in)

			_, err := svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.Code(err))

			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.field, appErr.Field)
			assert.Empty(t, e.requests, "nothing stored on validation failure")
		})
	}
}

func TestListClampsPagination(t *testing.T) {
	e := newEnv()
	svc := newRequestService(e)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, validInput())
		require.NoError(t, err)
	}

	// Out-of-range limits fall back to the default and return everything here.
	items, total, err := svc.List(ctx, repository.RequestFilter{Limit: -1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, items, 3)

	items, total, err = svc.List(ctx, repository.RequestFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, items, 1)
}

func TestDeleteRequestAuthorization(t *testing.T) {
	e := newEnv()
	seedYouth(e)
	svc := newRequestService(e)
	ctx := context.Background()

	err := svc.Delete(ctx, "user-usher", "req-1")
	assert.Equal(t, apperr.CodeNotAuthorized, apperr.Code(err))
	assert.Contains(t, e.requests, "req-1")

	require.NoError(t, svc.Delete(ctx, "user-requester", "req-1"))
	assert.NotContains(t, e.requests, "req-1")
}

func TestDeleteRequestByOverrideRole(t *testing.T) {
	e := newEnv()
	seedYouth(e)
	svc := newRequestService(e)

	require.NoError(t, svc.Delete(context.Background(), "user-admin", "req-1"))
	assert.NotContains(t, e.requests, "req-1")
}

func TestDeleteRequestInChainIsConflict(t *testing.T) {
	e := newEnv()
	req := seedYouth(e)
	req.Status = "pending_treasurer_approval"
	svc := newRequestService(e)

	err := svc.Delete(context.Background(), "user-requester", "req-1")
	assert.Equal(t, apperr.CodeConflict, apperr.Code(err))
	assert.Contains(t, e.requests, "req-1")
}

func TestHistoryUnknownRequest(t *testing.T) {
	e := newEnv()
	svc := newRequestService(e)

	_, err := svc.History(context.Background(), "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}
