package pricing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/pricing"
	"github.com/azuaraj/peatio/internal/testutil"
)

func TestMarketStore_NearestTradePrice(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO markets (id, base_unit, quote_unit) VALUES ('btcusd', 'btc', 'usd')`); err != nil {
		t.Fatalf("insert market: %v", err)
	}

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, trade := range []struct {
		price string
		at    time.Time
	}{
		{"19000", base.Add(-2 * time.Hour)},
		{"20000", base.Add(-time.Hour)},
		{"21000", base.Add(time.Hour)},
	} {
		if _, err := db.Exec(`
			INSERT INTO trades (market_id, maker_order_id, taker_order_id, price, amount, total, created_at)
			VALUES ('btcusd', 0, 0, $1, '1', $1, $2)
		`, trade.price, trade.at); err != nil {
			t.Fatalf("insert trade: %v", err)
		}
	}

	store := pricing.NewMarketStore(db)

	marketID, err := store.ConversionMarket(ctx, "btc", "usd")
	if err != nil {
		t.Fatalf("ConversionMarket: %v", err)
	}
	if marketID != "btcusd" {
		t.Fatalf("market: got %q, want btcusd", marketID)
	}

	// Valuing at noon must pick the 11:00 trade, never the 13:00 one.
	price, err := store.NearestTradePrice(ctx, marketID, base)
	if err != nil {
		t.Fatalf("NearestTradePrice: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("price: got %s, want 20000", price)
	}

	// A trade exactly at the valuation timestamp qualifies.
	price, err = store.NearestTradePrice(ctx, marketID, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("NearestTradePrice: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(21000)) {
		t.Errorf("price at boundary: got %s, want 21000", price)
	}

	// Before the first trade there is no price.
	_, err = store.NearestTradePrice(ctx, marketID, base.Add(-3*time.Hour))
	if !errors.Is(err, pricing.ErrNoPriceData) {
		t.Errorf("got %v, want ErrNoPriceData", err)
	}
}

func TestMarketStore_NoMarket(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := pricing.NewMarketStore(db)
	_, err := store.ConversionMarket(context.Background(), "xyz", "usd")
	if !errors.Is(err, pricing.ErrNoMarket) {
		t.Errorf("got %v, want ErrNoMarket", err)
	}
}
