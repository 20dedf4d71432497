package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/liability"
)

// ErrTransferTooManyCurrencies means a single transfer reference moved more
// than two currencies. The implied cross-rate only exists for a pair, so
// this breaks PnL calculation and aborts the batch.
var ErrTransferTooManyCurrencies = errors.New("transfer with more than two currencies breaks pnl calculation")

// ErrTransferNoAnchor means a two-currency transfer has no leg denominated
// in the portfolio currency, so there is nothing to anchor the implied
// cross-rate to.
var ErrTransferNoAnchor = errors.New("transfer needs a direct conversion through the portfolio currency")

// DestinationType classifies the account a transfer leg settled into.
type DestinationType int

const (
	DestinationUnknown DestinationType = iota
	DestinationMain
	DestinationLock
)

// Bucket holds the raw liability legs of one transfer in one currency.
type Bucket struct {
	Destination DestinationType
	Rows        []liability.Event
}

// Group is one transfer's buckets keyed by currency. Built and discarded
// within a single batch, never persisted.
type Group map[string]*Bucket

// GroupTransfers buckets raw transfer legs by (reference, currency) and
// classifies each bucket's destination from its credit legs: a lock code
// always marks the bucket as lock, a main settlement code only claims a
// bucket nobody classified yet. Lock destinations are excluded from
// valuation later; only the source-side main buckets carry PnL.
func GroupTransfers(rows []liability.Event) map[int64]Group {
	groups := make(map[int64]Group)
	for _, l := range rows {
		g, ok := groups[l.ReferenceID]
		if !ok {
			g = make(Group)
			groups[l.ReferenceID] = g
		}
		b, ok := g[l.CurrencyID]
		if !ok {
			b = &Bucket{}
			g[l.CurrencyID] = b
		}

		if l.Credit.IsPositive() {
			switch l.Code {
			case liability.CodeLockCredit, liability.CodeLockDebit:
				b.Destination = DestinationLock
			case liability.CodeMainCredit, liability.CodeMainDebit:
				if b.Destination == DestinationUnknown {
					b.Destination = DestinationMain
				}
			}
		}

		b.Rows = append(b.Rows, l)
	}
	return groups
}

// FeeSource looks up out-of-band fee revenue rows for a transfer reference.
// Implemented by liability.Reader.
type FeeSource interface {
	TransferFees(ctx context.Context, referenceID int64, currencyID string) ([]liability.Fee, error)
}

// legTotals accumulates one member's raw movement in one currency.
type legTotals struct {
	totalCredit     decimal.Decimal
	totalCreditFees decimal.Decimal
	totalDebit      decimal.Decimal
	totalAmount     decimal.Decimal
	liabilityID     int64
}

// TransferValuator values paired transfer legs into portfolio deltas.
type TransferValuator struct {
	fees FeeSource
	log  zerolog.Logger
}

func NewTransferValuator(fees FeeSource, log zerolog.Logger) *TransferValuator {
	return &TransferValuator{fees: fees, log: log}
}

// Value turns one transfer group into deltas. A single-currency transfer is
// a lock-only move and yields nothing. A two-currency transfer derives an
// implied cross-rate from the paired amounts: the leg already denominated
// in the portfolio currency anchors the conversion and its value equals its
// raw amount; the other leg's amounts convert through the rate. More than
// two currencies is fatal for the batch.
func (v *TransferValuator) Value(ctx context.Context, portfolioCurrency string, referenceID int64, group Group) ([]Delta, error) {
	switch {
	case len(group) <= 1:
		// Probably a lock transfer, nothing to value.
		return nil, nil
	case len(group) > 2:
		return nil, fmt.Errorf("transfer %d spans %d currencies: %w", referenceID, len(group), ErrTransferTooManyCurrencies)
	}

	totals := make(map[int64]map[string]*legTotals)
	touch := func(memberID int64, currencyID string) *legTotals {
		byCurrency, ok := totals[memberID]
		if !ok {
			byCurrency = make(map[string]*legTotals)
			totals[memberID] = byCurrency
		}
		lt, ok := byCurrency[currencyID]
		if !ok {
			lt = &legTotals{}
			byCurrency[currencyID] = lt
		}
		return lt
	}

	currencies := make([]string, 0, len(group))
	for cid := range group {
		currencies = append(currencies, cid)
	}
	sort.Strings(currencies)

	for _, cid := range currencies {
		bucket := group[cid]
		if bucket.Destination != DestinationMain {
			if bucket.Destination == DestinationUnknown {
				v.log.Error().Int64("transfer", referenceID).Str("currency", cid).
					Msg("account destination type not identified")
			} else {
				v.log.Error().Int64("transfer", referenceID).Str("currency", cid).
					Msg("transfer flags locked with several currencies")
			}
			continue
		}

		rows := bucket.Rows
		fees, err := v.fees.TransferFees(ctx, referenceID, cid)
		if err != nil {
			return nil, fmt.Errorf("transfer %d fees: %w", referenceID, err)
		}

		// A fee leg already charged out-of-band shows up as a liability row
		// whose credit/debit exactly mirror the fee's debit/credit. Pull it
		// out of the bucket and book it as credit fees instead.
		for _, fee := range fees {
			for i, l := range rows {
				if l.Debit.Equal(fee.Credit) && l.Credit.Equal(fee.Debit) {
					lt := touch(l.MemberID, cid)
					lt.totalCreditFees = lt.totalCreditFees.Add(fee.Credit)
					rows = append(rows[:i], rows[i+1:]...)
					break
				}
			}
		}

		for _, l := range rows {
			lt := touch(l.MemberID, cid)
			lt.totalCredit = lt.totalCredit.Add(l.Credit)
			lt.totalDebit = lt.totalDebit.Add(l.Debit)
			lt.totalAmount = lt.totalAmount.Add(l.Credit).Add(l.Debit)
			if l.ID > lt.liabilityID {
				lt.liabilityID = l.ID
			}
		}
	}

	members := make([]int64, 0, len(totals))
	for memberID := range totals {
		members = append(members, memberID)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	var deltas []Delta
	for _, memberID := range members {
		stats := totals[memberID]
		if len(stats) < 2 {
			// The member only moved one currency; a lock-side or one-legged
			// view with no pair to derive a rate from.
			continue
		}
		if len(stats) > 2 {
			return nil, fmt.Errorf("transfer %d member %d: %w", referenceID, memberID, ErrTransferTooManyCurrencies)
		}

		pair := make([]string, 0, 2)
		for cid := range stats {
			pair = append(pair, cid)
		}
		sort.Strings(pair)

		var anchor, other string
		switch portfolioCurrency {
		case pair[0]:
			anchor, other = pair[0], pair[1]
		case pair[1]:
			anchor, other = pair[1], pair[0]
		default:
			return nil, fmt.Errorf("transfer %d member %d (%s/%s vs %s): %w",
				referenceID, memberID, pair[0], pair[1], portfolioCurrency, ErrTransferNoAnchor)
		}

		anchorLeg, otherLeg := stats[anchor], stats[other]
		if anchorLeg.totalAmount.IsZero() || otherLeg.totalAmount.IsZero() {
			return nil, fmt.Errorf("transfer %d member %d: zero-amount leg, no implied rate", referenceID, memberID)
		}

		// Portfolio-currency units per unit of the other currency.
		crossRate := anchorLeg.totalAmount.Div(otherLeg.totalAmount)

		deltas = append(deltas,
			Delta{
				MemberID:          memberID,
				PortfolioCurrency: portfolioCurrency,
				CurrencyID:        other,
				TotalCredit:       otherLeg.totalCredit,
				TotalCreditFees:   otherLeg.totalCreditFees,
				TotalCreditValue:  otherLeg.totalCredit.Mul(crossRate),
				TotalDebit:        otherLeg.totalDebit,
				TotalDebitValue:   otherLeg.totalDebit.Mul(crossRate),
				LiabilityID:       otherLeg.liabilityID,
			},
			Delta{
				MemberID:          memberID,
				PortfolioCurrency: portfolioCurrency,
				CurrencyID:        anchor,
				TotalCredit:       anchorLeg.totalCredit,
				TotalCreditFees:   anchorLeg.totalCreditFees,
				TotalCreditValue:  anchorLeg.totalCredit,
				TotalDebit:        anchorLeg.totalDebit,
				TotalDebitValue:   anchorLeg.totalDebit,
				LiabilityID:       anchorLeg.liabilityID,
			},
		)
	}

	return deltas, nil
}
