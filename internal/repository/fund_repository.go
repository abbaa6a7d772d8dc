package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/database"
)

// FundRepository reads fund balances and applies the terminal-approve debit.
type FundRepository struct {
	db *database.DB
}

// NewFundRepository creates a new FundRepository.
func NewFundRepository(db *database.DB) *FundRepository {
	return &FundRepository{db: db}
}

// GetByID retrieves a fund by primary key.
func (r *FundRepository) GetByID(ctx context.Context, id string) (*FundType, error) {
	query := `
		SELECT id, name, current_balance, created_at, updated_at
		FROM fund_types
		WHERE id = $1
	`

	fund := &FundType{}
	err := r.db.Runner(ctx).QueryRow(ctx, query, id).Scan(
		&fund.ID,
		&fund.Name,
		&fund.CurrentBalance,
		&fund.CreatedAt,
		&fund.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("fund_type", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get fund")
	}
	return fund, nil
}

// Debit subtracts amount from the fund balance and returns the new balance.
// Balances may go negative; callers run this inside the decision transaction.
func (r *FundRepository) Debit(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE fund_types
		SET current_balance = current_balance - $2,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING current_balance
	`

	var balance decimal.Decimal
	err := r.db.Runner(ctx).QueryRow(ctx, query, id, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, apperr.NotFound("fund_type", id)
	}
	if err != nil {
		return decimal.Zero, apperr.Wrap(err, apperr.CodeFundDebitFailed, "failed to debit fund")
	}
	return balance, nil
}
