package valuation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/liability"
)

// ValueDeposit produces the credit-side delta for a deposit. The deposited
// amount is valued at the conversion rate in effect when the deposit was
// created.
func ValueDeposit(ctx context.Context, prices PriceSource, portfolioCurrency string, liabilityID int64, d *liability.Deposit) (Delta, error) {
	rate, err := prices.RateAt(ctx, portfolioCurrency, d.CurrencyID, d.CreatedAt)
	if err != nil {
		return Delta{}, fmt.Errorf("value deposit %d: %w", d.ID, err)
	}

	return Delta{
		MemberID:          d.MemberID,
		PortfolioCurrency: portfolioCurrency,
		CurrencyID:        d.CurrencyID,
		TotalCredit:       d.Amount,
		TotalCreditFees:   d.Fee,
		TotalCreditValue:  d.Amount.Mul(rate),
		LiabilityID:       liabilityID,
	}, nil
}

// ValueWithdraw produces the debit-side delta for a withdraw. The fee is
// charged on top of the withdrawn amount, so the debit value covers both.
func ValueWithdraw(ctx context.Context, prices PriceSource, portfolioCurrency string, liabilityID int64, w *liability.Withdraw) (Delta, error) {
	rate, err := prices.RateAt(ctx, portfolioCurrency, w.CurrencyID, w.CreatedAt)
	if err != nil {
		return Delta{}, fmt.Errorf("value withdraw %d: %w", w.ID, err)
	}

	return Delta{
		MemberID:          w.MemberID,
		PortfolioCurrency: portfolioCurrency,
		CurrencyID:        w.CurrencyID,
		TotalDebit:        w.Amount,
		TotalDebitFees:    w.Fee,
		TotalDebitValue:   w.Amount.Add(w.Fee).Mul(rate),
		LiabilityID:       liabilityID,
	}, nil
}

// ValueTradeOrder values one side of a trade from the perspective of a
// single order and returns two deltas: a credit-only delta in the order's
// income currency and a debit-only delta in its outcome currency. A buy
// earns the traded asset minus fee and pays the quote total; a sell earns
// the quote total minus fee and pays the traded asset.
//
// When the market's quote currency is the portfolio currency itself, both
// legs are valued directly from the trade price with no external lookup:
// the base-denominated leg converts through the price, the quote leg is
// already portfolio-denominated.
func ValueTradeOrder(ctx context.Context, prices PriceSource, portfolioCurrency string, liabilityID int64, t *liability.Trade, o *liability.Order) ([]Delta, error) {
	var totalCredit, totalCreditFees, totalDebit decimal.Decimal
	if o.Side == liability.SideBuy {
		totalCreditFees = t.Amount.Mul(o.FeeRate)
		totalCredit = t.Amount.Sub(totalCreditFees)
		totalDebit = t.Total
	} else {
		totalCreditFees = t.Total.Mul(o.FeeRate)
		totalCredit = t.Total.Sub(totalCreditFees)
		totalDebit = t.Amount
	}

	incomeCurrency := t.IncomeCurrency(o)
	outcomeCurrency := t.OutcomeCurrency(o)

	var totalCreditValue, totalDebitValue decimal.Decimal
	if t.QuoteCurrency == portfolioCurrency {
		if o.Side == liability.SideBuy {
			totalCreditValue = totalCredit.Mul(t.Price)
			totalDebitValue = totalDebit
		} else {
			totalCreditValue = totalCredit
			totalDebitValue = totalDebit.Mul(t.Price)
		}
	} else {
		creditRate, err := prices.RateAt(ctx, portfolioCurrency, incomeCurrency, t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("value trade %d order %d income: %w", t.ID, o.ID, err)
		}
		debitRate, err := prices.RateAt(ctx, portfolioCurrency, outcomeCurrency, t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("value trade %d order %d outcome: %w", t.ID, o.ID, err)
		}
		totalCreditValue = totalCredit.Mul(creditRate)
		totalDebitValue = totalDebit.Mul(debitRate)
	}

	return []Delta{
		{
			MemberID:          o.MemberID,
			PortfolioCurrency: portfolioCurrency,
			CurrencyID:        incomeCurrency,
			TotalCredit:       totalCredit,
			TotalCreditFees:   totalCreditFees,
			TotalCreditValue:  totalCreditValue,
			LiabilityID:       liabilityID,
		},
		{
			MemberID:          o.MemberID,
			PortfolioCurrency: portfolioCurrency,
			CurrencyID:        outcomeCurrency,
			TotalDebit:        totalDebit,
			TotalDebitValue:   totalDebitValue,
			LiabilityID:       liabilityID,
		},
	}, nil
}
