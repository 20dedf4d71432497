package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/valuation"
)

// BalanceStore persists portfolio balances in Postgres using an additive
// bulk upsert.
type BalanceStore struct {
	db *sql.DB
}

// Balance is one durable portfolio-balance row.
type Balance struct {
	MemberID          int64
	PortfolioCurrency string
	CurrencyID        string
	TotalCredit       decimal.Decimal
	TotalCreditFees   decimal.Decimal
	TotalCreditValue  decimal.Decimal
	TotalDebit        decimal.Decimal
	TotalDebitValue   decimal.Decimal
	TotalDebitFees    decimal.Decimal
	LastLiabilityID   int64
	UpdatedAt         time.Time
}

func NewBalanceStore(db *sql.DB) *BalanceStore {
	return &BalanceStore{db: db}
}

// MaxLiabilityID returns the watermark for a portfolio currency: the
// highest liability id already folded into its balances, 0 when none.
func (s *BalanceStore) MaxLiabilityID(ctx context.Context, portfolioCurrency string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(last_liability_id), 0)
		FROM portfolios
		WHERE portfolio_currency_id = $1
	`, portfolioCurrency).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query watermark for %s: %w", portfolioCurrency, err)
	}
	return max, nil
}

// Merge applies a batch of deltas as one additive upsert inside a single
// transaction: missing rows are inserted, existing rows have every numeric
// field added to, and last_liability_id moves to the greatest contributed
// id, never backwards. Deltas sharing a key are pre-summed because one
// statement may not update the same target row twice. The watermark is
// implied by last_liability_id, so committing the upsert atomically
// advances it; a retried batch re-adds nothing because the caller re-reads
// from the committed watermark.
func (s *BalanceStore) Merge(ctx context.Context, deltas []valuation.Delta) error {
	deltas = valuation.SumByKey(deltas)
	if len(deltas) == 0 {
		return nil
	}

	query := `INSERT INTO portfolios
		(member_id, portfolio_currency_id, currency_id,
		 total_credit, total_credit_fees, total_credit_value,
		 total_debit, total_debit_value, total_debit_fees,
		 last_liability_id, updated_at)
		VALUES `

	values := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)*10)

	for i, d := range deltas {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			d.MemberID, d.PortfolioCurrency, d.CurrencyID,
			d.TotalCredit.String(), d.TotalCreditFees.String(), d.TotalCreditValue.String(),
			d.TotalDebit.String(), d.TotalDebitValue.String(), d.TotalDebitFees.String(),
			d.LiabilityID,
		)
	}

	query += strings.Join(values, ", ")
	query += `
		ON CONFLICT (member_id, portfolio_currency_id, currency_id) DO UPDATE SET
		total_credit = portfolios.total_credit + EXCLUDED.total_credit,
		total_credit_fees = portfolios.total_credit_fees + EXCLUDED.total_credit_fees,
		total_credit_value = portfolios.total_credit_value + EXCLUDED.total_credit_value,
		total_debit = portfolios.total_debit + EXCLUDED.total_debit,
		total_debit_value = portfolios.total_debit_value + EXCLUDED.total_debit_value,
		total_debit_fees = portfolios.total_debit_fees + EXCLUDED.total_debit_fees,
		last_liability_id = GREATEST(portfolios.last_liability_id, EXCLUDED.last_liability_id),
		updated_at = NOW()`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("merge %d portfolio deltas: %w", len(deltas), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// Get returns one balance row, or nil when the key has no row yet.
func (s *BalanceStore) Get(ctx context.Context, memberID int64, portfolioCurrency, currencyID string) (*Balance, error) {
	var b Balance
	var credit, creditFees, creditValue, debit, debitValue, debitFees string
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, portfolio_currency_id, currency_id,
		       total_credit::TEXT, total_credit_fees::TEXT, total_credit_value::TEXT,
		       total_debit::TEXT, total_debit_value::TEXT, total_debit_fees::TEXT,
		       last_liability_id, updated_at
		FROM portfolios
		WHERE member_id = $1 AND portfolio_currency_id = $2 AND currency_id = $3
	`, memberID, portfolioCurrency, currencyID).Scan(
		&b.MemberID, &b.PortfolioCurrency, &b.CurrencyID,
		&credit, &creditFees, &creditValue,
		&debit, &debitValue, &debitFees,
		&b.LastLiabilityID, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio balance: %w", err)
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.TotalCredit, credit}, {&b.TotalCreditFees, creditFees}, {&b.TotalCreditValue, creditValue},
		{&b.TotalDebit, debit}, {&b.TotalDebitValue, debitValue}, {&b.TotalDebitFees, debitFees},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("parse balance numeric %q: %w", f.src, err)
		}
	}
	return &b, nil
}
