// Package valuation turns ledger events into portfolio deltas denominated
// in a portfolio currency.
package valuation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource resolves a historical conversion rate into the portfolio
// currency. Implemented by pricing.Resolver.
type PriceSource interface {
	RateAt(ctx context.Context, portfolioCurrency, currency string, at time.Time) (decimal.Decimal, error)
}

// Key identifies one portfolio balance row.
type Key struct {
	MemberID          int64
	PortfolioCurrency string
	CurrencyID        string
}

// Delta is the unit of output of all valuators: one additive contribution
// to a portfolio balance row. Amounts are raw currency units; values are
// denominated in the portfolio currency.
type Delta struct {
	MemberID          int64
	PortfolioCurrency string
	CurrencyID        string

	TotalCredit      decimal.Decimal
	TotalCreditFees  decimal.Decimal
	TotalCreditValue decimal.Decimal
	TotalDebit       decimal.Decimal
	TotalDebitValue  decimal.Decimal
	TotalDebitFees   decimal.Decimal

	// Highest liability id that contributed to this delta.
	LiabilityID int64
}

// Key returns the balance-row key the delta merges into.
func (d Delta) Key() Key {
	return Key{MemberID: d.MemberID, PortfolioCurrency: d.PortfolioCurrency, CurrencyID: d.CurrencyID}
}

// SumByKey collapses deltas sharing a key into one row, summing every
// numeric field and keeping the maximum liability id. A single upsert
// statement cannot touch the same target row twice, so the batch must be
// pre-aggregated before it reaches the store. Output order is
// deterministic.
func SumByKey(deltas []Delta) []Delta {
	merged := make(map[Key]*Delta, len(deltas))
	for _, d := range deltas {
		k := d.Key()
		acc, ok := merged[k]
		if !ok {
			cp := d
			merged[k] = &cp
			continue
		}
		acc.TotalCredit = acc.TotalCredit.Add(d.TotalCredit)
		acc.TotalCreditFees = acc.TotalCreditFees.Add(d.TotalCreditFees)
		acc.TotalCreditValue = acc.TotalCreditValue.Add(d.TotalCreditValue)
		acc.TotalDebit = acc.TotalDebit.Add(d.TotalDebit)
		acc.TotalDebitValue = acc.TotalDebitValue.Add(d.TotalDebitValue)
		acc.TotalDebitFees = acc.TotalDebitFees.Add(d.TotalDebitFees)
		if d.LiabilityID > acc.LiabilityID {
			acc.LiabilityID = d.LiabilityID
		}
	}

	out := make([]Delta, 0, len(merged))
	for _, d := range merged {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		if a.PortfolioCurrency != b.PortfolioCurrency {
			return a.PortfolioCurrency < b.PortfolioCurrency
		}
		return a.CurrencyID < b.CurrencyID
	})
	return out
}
