package valuation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/azuaraj/peatio/internal/liability"
	"github.com/azuaraj/peatio/internal/valuation"
)

type fakeFees struct {
	byCurrency map[string][]liability.Fee
}

func (f *fakeFees) TransferFees(_ context.Context, _ int64, currencyID string) ([]liability.Fee, error) {
	if f.byCurrency == nil {
		return nil, nil
	}
	return f.byCurrency[currencyID], nil
}

func transferRow(id int64, member int64, currency string, credit, debit string, code int) liability.Event {
	return liability.Event{
		ID:            id,
		ReferenceType: liability.ReferenceTransfer,
		ReferenceID:   500,
		CurrencyID:    currency,
		MemberID:      member,
		Credit:        dec(credit),
		Debit:         dec(debit),
		Code:          code,
	}
}

func newValuator(fees *fakeFees) *valuation.TransferValuator {
	return valuation.NewTransferValuator(fees, zerolog.Nop())
}

// ============================================================================
// Test: GroupTransfers
// ============================================================================

func TestGroupTransfers_BucketsByReferenceAndCurrency(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
		transferRow(2, 2, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(3, 2, "btc", "0", "0.01", liability.CodeMainDebit),
		transferRow(4, 1, "btc", "0.01", "0", liability.CodeMainCredit),
	}

	groups := valuation.GroupTransfers(rows)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[500]
	if len(g) != 2 {
		t.Fatalf("got %d currency buckets, want 2", len(g))
	}
	if g["usd"].Destination != valuation.DestinationMain {
		t.Errorf("usd destination: got %v, want main", g["usd"].Destination)
	}
	if len(g["usd"].Rows) != 2 || len(g["btc"].Rows) != 2 {
		t.Errorf("unexpected bucket sizes: usd=%d btc=%d", len(g["usd"].Rows), len(g["btc"].Rows))
	}
}

func TestGroupTransfers_LockCreditWinsClassification(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "usd", "50", "0", liability.CodeMainCredit),
		transferRow(2, 1, "usd", "50", "0", liability.CodeLockCredit),
	}

	groups := valuation.GroupTransfers(rows)
	if got := groups[500]["usd"].Destination; got != valuation.DestinationLock {
		t.Errorf("destination: got %v, want lock", got)
	}
}

func TestGroupTransfers_DebitOnlyBucketStaysUnknown(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
	}

	groups := valuation.GroupTransfers(rows)
	if got := groups[500]["usd"].Destination; got != valuation.DestinationUnknown {
		t.Errorf("destination: got %v, want unknown", got)
	}
}

// ============================================================================
// Test: TransferValuator.Value
// ============================================================================

func TestTransferValue_SingleCurrencyYieldsNothing(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
		transferRow(2, 1, "usd", "100", "0", liability.CodeLockCredit),
	}
	groups := valuation.GroupTransfers(rows)

	deltas, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if deltas != nil {
		t.Errorf("expected no deltas for a lock move, got %d", len(deltas))
	}
}

func TestTransferValue_TooManyCurrencies(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(2, 1, "btc", "0.01", "0", liability.CodeMainCredit),
		transferRow(3, 1, "eth", "1", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	_, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if !errors.Is(err, valuation.ErrTransferTooManyCurrencies) {
		t.Fatalf("got %v, want ErrTransferTooManyCurrencies", err)
	}
}

func TestTransferValue_NoAnchorCurrency(t *testing.T) {
	rows := []liability.Event{
		transferRow(1, 1, "btc", "0", "0.01", liability.CodeMainDebit),
		transferRow(2, 1, "btc", "0.01", "0", liability.CodeMainCredit),
		transferRow(3, 1, "eth", "0", "1", liability.CodeMainDebit),
		transferRow(4, 1, "eth", "1", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	_, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if !errors.Is(err, valuation.ErrTransferNoAnchor) {
		t.Fatalf("got %v, want ErrTransferNoAnchor", err)
	}
}

func TestTransferValue_TwoMemberSwap(t *testing.T) {
	// Member 1 pays 100 usd for 0.01 btc from member 2. The implied rate is
	// 10000 usd per btc; both members' btc legs value through it and the usd
	// legs value at face.
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
		transferRow(2, 2, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(3, 2, "btc", "0", "0.01", liability.CodeMainDebit),
		transferRow(4, 1, "btc", "0.01", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	deltas, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if len(deltas) != 4 {
		t.Fatalf("got %d deltas, want 4", len(deltas))
	}

	// Member order is deterministic; per member the non-anchor leg comes first.
	m1btc, m1usd, m2btc, m2usd := deltas[0], deltas[1], deltas[2], deltas[3]

	if m1btc.MemberID != 1 || m1btc.CurrencyID != "btc" {
		t.Fatalf("deltas[0]: %+v", m1btc)
	}
	eq(t, "m1 btc TotalCredit", m1btc.TotalCredit, dec("0.01"))
	eq(t, "m1 btc TotalCreditValue", m1btc.TotalCreditValue, dec("100"))
	eq(t, "m1 btc TotalDebit", m1btc.TotalDebit, decimal.Zero)

	if m1usd.CurrencyID != "usd" {
		t.Fatalf("deltas[1]: %+v", m1usd)
	}
	eq(t, "m1 usd TotalDebit", m1usd.TotalDebit, dec("100"))
	eq(t, "m1 usd TotalDebitValue", m1usd.TotalDebitValue, dec("100"))

	if m2btc.MemberID != 2 || m2btc.CurrencyID != "btc" {
		t.Fatalf("deltas[2]: %+v", m2btc)
	}
	eq(t, "m2 btc TotalDebit", m2btc.TotalDebit, dec("0.01"))
	eq(t, "m2 btc TotalDebitValue", m2btc.TotalDebitValue, dec("100"))

	eq(t, "m2 usd TotalCredit", m2usd.TotalCredit, dec("100"))
	eq(t, "m2 usd TotalCreditValue", m2usd.TotalCreditValue, dec("100"))
}

func TestTransferValue_AnchorOrderIndependent(t *testing.T) {
	// Same swap with btc as the portfolio currency: the anchor flips and the
	// usd legs convert at 0.0001 btc per usd.
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
		transferRow(2, 2, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(3, 2, "btc", "0", "0.01", liability.CodeMainDebit),
		transferRow(4, 1, "btc", "0.01", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	deltas, err := newValuator(&fakeFees{}).Value(context.Background(), "btc", 500, groups[500])
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if len(deltas) != 4 {
		t.Fatalf("got %d deltas, want 4", len(deltas))
	}

	m1usd := deltas[0]
	if m1usd.CurrencyID != "usd" {
		t.Fatalf("deltas[0]: %+v", m1usd)
	}
	eq(t, "m1 usd TotalDebit", m1usd.TotalDebit, dec("100"))
	eq(t, "m1 usd TotalDebitValue", m1usd.TotalDebitValue, dec("0.01"))
}

func TestTransferValue_FeeLegNetsOut(t *testing.T) {
	// The 1 usd fee row mirrors a revenue: it must not count as movement,
	// only as credit fees.
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "100", liability.CodeMainDebit),
		transferRow(2, 1, "usd", "0", "1", liability.CodeMainDebit),
		transferRow(3, 1, "btc", "0.01", "0", liability.CodeMainCredit),
		transferRow(4, 2, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(5, 2, "btc", "0", "0.01", liability.CodeMainDebit),
	}
	groups := valuation.GroupTransfers(rows)
	fees := &fakeFees{byCurrency: map[string][]liability.Fee{
		"usd": {{Credit: dec("1"), Debit: dec("0")}},
	}}

	deltas, err := newValuator(fees).Value(context.Background(), "usd", 500, groups[500])
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var m1usd *valuation.Delta
	for i := range deltas {
		if deltas[i].MemberID == 1 && deltas[i].CurrencyID == "usd" {
			m1usd = &deltas[i]
		}
	}
	if m1usd == nil {
		t.Fatal("missing member 1 usd delta")
	}

	eq(t, "TotalCreditFees", m1usd.TotalCreditFees, dec("1"))
	eq(t, "TotalDebit", m1usd.TotalDebit, dec("100"))
	// The netted fee leg must not skew the implied rate.
	eq(t, "TotalDebitValue", m1usd.TotalDebitValue, dec("100"))
}

func TestTransferValue_LockBucketSkipped(t *testing.T) {
	// One bucket settled into lock: its legs are excluded, leaving every
	// member with a single currency and nothing to value.
	rows := []liability.Event{
		transferRow(1, 1, "usd", "100", "0", liability.CodeLockCredit),
		transferRow(2, 1, "btc", "0.01", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	deltas, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if len(deltas) != 0 {
		t.Errorf("expected no deltas, got %d", len(deltas))
	}
}

func TestTransferValue_ZeroAmountLegFatal(t *testing.T) {
	// Member 1's usd leg nets to zero, so no implied rate exists for their
	// btc movement. The bucket itself is still main via member 2's credit.
	rows := []liability.Event{
		transferRow(1, 1, "usd", "0", "0", liability.CodeMainDebit),
		transferRow(2, 2, "usd", "100", "0", liability.CodeMainCredit),
		transferRow(3, 1, "btc", "0.01", "0", liability.CodeMainCredit),
	}
	groups := valuation.GroupTransfers(rows)

	_, err := newValuator(&fakeFees{}).Value(context.Background(), "usd", 500, groups[500])
	if err == nil {
		t.Fatal("expected zero-amount leg to abort the batch")
	}
}
