// Package pricing resolves historical conversion rates between currencies
// from trade history on the direct market.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/observability"
)

// ErrNoMarket means no direct market exists for the currency pair. This is a
// configuration error: every currency that appears in the ledger needs a
// direct market against each configured portfolio currency.
var ErrNoMarket = errors.New("no conversion market")

// ErrNoPriceData means the market exists but has no trade at or before the
// requested time.
var ErrNoPriceData = errors.New("no trades on market")

// MarketSource looks up markets and historical trades.
// ConversionMarket returns an error wrapping ErrNoMarket when the pair has
// no direct market; NearestTradePrice returns an error wrapping
// ErrNoPriceData when no trade exists at or before the timestamp.
type MarketSource interface {
	ConversionMarket(ctx context.Context, base, quote string) (string, error)
	NearestTradePrice(ctx context.Context, marketID string, at time.Time) (decimal.Decimal, error)
}

// Resolver converts amounts between currencies using the last trade at or
// before the valuation timestamp on the direct market. The at-or-before
// tie-break is deliberate: a strictly-before or nearest-by-distance policy
// would value an event with a price that did not yet exist or that postdates
// it.
type Resolver struct {
	markets MarketSource
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewResolver(markets MarketSource, log zerolog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{markets: markets, log: log, metrics: metrics}
}

// RateAt returns the conversion rate from currency into portfolioCurrency
// at the given time. Identical currencies convert at 1 without a lookup.
func (r *Resolver) RateAt(ctx context.Context, portfolioCurrency, currency string, at time.Time) (decimal.Decimal, error) {
	if portfolioCurrency == currency {
		return decimal.NewFromInt(1), nil
	}

	start := time.Now()

	marketID, err := r.markets.ConversionMarket(ctx, currency, portfolioCurrency)
	if err != nil {
		r.count(err)
		return decimal.Zero, fmt.Errorf("market %s/%s: %w", currency, portfolioCurrency, err)
	}

	price, err := r.markets.NearestTradePrice(ctx, marketID, at)
	if err != nil {
		r.count(err)
		return decimal.Zero, fmt.Errorf("price on %s at %s: %w", marketID, at.Format(time.RFC3339), err)
	}

	if r.metrics != nil {
		r.metrics.PriceLookups.WithLabelValues("ok").Inc()
		r.metrics.PriceLookupDuration.Observe(time.Since(start).Seconds())
	}

	r.log.Debug().
		Str("market", marketID).
		Time("at", at).
		Str("price", price.String()).
		Msg("resolved nearest trade")

	return price, nil
}

func (r *Resolver) count(err error) {
	if r.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrNoMarket):
		r.metrics.PriceLookups.WithLabelValues("no_market").Inc()
	case errors.Is(err, ErrNoPriceData):
		r.metrics.PriceLookups.WithLabelValues("no_price_data").Inc()
	default:
		r.metrics.PriceLookups.WithLabelValues("error").Inc()
	}
}
