package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStore implements MarketSource against the market and trade-history
// tables in Postgres. Read-only; the trading subsystem owns the tables.
type MarketStore struct {
	db *sql.DB
}

func NewMarketStore(db *sql.DB) *MarketStore {
	return &MarketStore{db: db}
}

// ConversionMarket returns the id of the unique direct market quoting base
// in quote units.
func (s *MarketStore) ConversionMarket(ctx context.Context, base, quote string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM markets WHERE base_unit = $1 AND quote_unit = $2
	`, base, quote).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s%s: %w", base, quote, ErrNoMarket)
	}
	if err != nil {
		return "", fmt.Errorf("lookup market %s%s: %w", base, quote, err)
	}
	return id, nil
}

// NearestTradePrice returns the price of the last trade at or before the
// timestamp on the given market.
func (s *MarketStore) NearestTradePrice(ctx context.Context, marketID string, at time.Time) (decimal.Decimal, error) {
	var price string
	err := s.db.QueryRowContext(ctx, `
		SELECT price::TEXT FROM trades
		WHERE market_id = $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, marketID, at).Scan(&price)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("market %s: %w", marketID, ErrNoPriceData)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lookup nearest trade on %s: %w", marketID, err)
	}

	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse trade price %q: %w", price, err)
	}
	return d, nil
}
