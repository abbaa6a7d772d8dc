package repository

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishledger/be-money-requests/internal/apperr"
)

func TestNormalizeTemplate(t *testing.T) {
	tmpl := &ApprovalTemplate{
		DepartmentID: "youth",
		Steps: []TemplateStep{
			{Order: 2, Role: "head_of_department"},
			{Order: 1, Role: "treasurer"},
		},
	}

	require.NoError(t, NormalizeTemplate(tmpl))

	// Steps come back sorted with derived pending statuses.
	require.Len(t, tmpl.Steps, 2)
	assert.Equal(t, "treasurer", tmpl.Steps[0].Role)
	assert.Equal(t, "pending_treasurer_approval", tmpl.Steps[0].PendingStatus)
	assert.Equal(t, "pending_head_of_department_approval", tmpl.Steps[1].PendingStatus)
}

func TestNormalizeTemplateKeepsExplicitPendingStatus(t *testing.T) {
	tmpl := &ApprovalTemplate{
		Steps: []TemplateStep{
			{Order: 1, Role: "treasurer", PendingStatus: "pending_finance_review"},
		},
	}

	require.NoError(t, NormalizeTemplate(tmpl))
	assert.Equal(t, "pending_finance_review", tmpl.Steps[0].PendingStatus)
}

func TestNormalizeTemplateErrors(t *testing.T) {
	neg := decimal.NewFromInt(-10)

	cases := []struct {
		name string
		tmpl *ApprovalTemplate
	}{
		{"no steps", &ApprovalTemplate{}},
		{"gap in orders", &ApprovalTemplate{Steps: []TemplateStep{
			{Order: 1, Role: "treasurer"},
			{Order: 3, Role: "head_of_department"},
		}}},
		{"duplicate order", &ApprovalTemplate{Steps: []TemplateStep{
			{Order: 1, Role: "treasurer"},
			{Order: 1, Role: "head_of_department"},
		}}},
		{"orders not starting at 1", &ApprovalTemplate{Steps: []TemplateStep{
			{Order: 2, Role: "treasurer"},
		}}},
		{"missing role", &ApprovalTemplate{Steps: []TemplateStep{
			{Order: 1, Role: ""},
		}}},
		{"non-positive tier bound", &ApprovalTemplate{
			MaxAmount: &neg,
			Steps:     []TemplateStep{{Order: 1, Role: "treasurer"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NormalizeTemplate(tc.tmpl)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.Code(err))
		})
	}
}

func TestMatchTemplatePicksTightestTier(t *testing.T) {
	d := func(v int64) *decimal.Decimal {
		x := decimal.NewFromInt(v)
		return &x
	}
	// Ordered the way ListByDepartment returns them: ascending bound, open last.
	tiers := []*ApprovalTemplate{
		{ID: "small", MaxAmount: d(500)},
		{ID: "medium", MaxAmount: d(5000)},
		{ID: "open", MaxAmount: nil},
	}

	cases := []struct {
		amount int64
		want   string
	}{
		{300, "small"},
		{500, "small"}, // bound is inclusive
		{501, "medium"},
		{5000, "medium"},
		{9999, "open"},
	}
	for _, tc := range cases {
		got := matchTemplate(tiers, decimal.NewFromInt(tc.amount))
		require.NotNil(t, got, "amount %d", tc.amount)
		assert.Equal(t, tc.want, got.ID, "amount %d", tc.amount)
	}
}

func TestMatchTemplateNoCoveringTier(t *testing.T) {
	max := decimal.NewFromInt(500)
	tiers := []*ApprovalTemplate{{ID: "small", MaxAmount: &max}}

	assert.Nil(t, matchTemplate(tiers, decimal.NewFromInt(501)))
	assert.Nil(t, matchTemplate(nil, decimal.NewFromInt(1)))
}
