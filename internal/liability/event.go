package liability

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceType identifies the business event that produced a liability leg.
// The set is closed: the ledger subsystem never writes other values.
type ReferenceType string

const (
	ReferenceTrade      ReferenceType = "Trade"
	ReferenceDeposit    ReferenceType = "Deposit"
	ReferenceWithdraw   ReferenceType = "Withdraw"
	ReferenceAdjustment ReferenceType = "Adjustment"
	ReferenceTransfer   ReferenceType = "Transfer"
)

// Liability codes tag the business meaning of a leg.
// 2xx codes are liability operations; x1 is a credit code, x2 a debit code.
// 20x legs settle against a member's main account, 21x against the lock
// (hold) account. Withdraw settlement runs through the lock account, so its
// qualifying codes are 211/212 where trades and deposits use 201/202.
const (
	CodeMainCredit = 201
	CodeMainDebit  = 202
	CodeLockCredit = 211
	CodeLockDebit  = 212
)

// Event is a single credit or debit ledger leg. Rows are append-only and
// owned by the ledger subsystem; this service only reads them.
type Event struct {
	ID            int64
	ReferenceType ReferenceType
	ReferenceID   int64
	CurrencyID    string
	MemberID      int64
	Credit        decimal.Decimal
	Debit         decimal.Decimal
	Code          int
	CreatedAt     time.Time
}

// Summary is one business event collapsed to a single ordering key.
// A trade writes several liability rows (credit and debit legs for both
// counterparties); the watermark may only advance once the whole leg-set has
// been folded in, so the reader groups rows by reference and reports the
// maximum liability id of the group.
type Summary struct {
	MaxID         int64
	ReferenceType ReferenceType
	ReferenceID   int64
}

// OrderSide is the taker/maker order direction on a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Deposit is the business event behind a Deposit-typed liability.
type Deposit struct {
	ID         int64
	MemberID   int64
	CurrencyID string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	CreatedAt  time.Time
}

// Withdraw is the business event behind a Withdraw-typed liability.
type Withdraw struct {
	ID         int64
	MemberID   int64
	CurrencyID string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	CreatedAt  time.Time
}

// Order is one side of a trade. FeeRate is the market fee for the order's
// role (maker or taker) at the time the trade matched.
type Order struct {
	ID       int64
	MemberID int64
	Side     OrderSide
	FeeRate  decimal.Decimal
}

// Trade is a matched execution on a spot market. Price is quoted in
// QuoteCurrency per unit of BaseCurrency; Amount is in base units and Total
// in quote units.
type Trade struct {
	ID            int64
	MarketID      string
	BaseCurrency  string
	QuoteCurrency string
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Total         decimal.Decimal
	MakerOrder    Order
	TakerOrder    Order
	CreatedAt     time.Time
}

// IncomeCurrency is the currency an order earns: the traded asset for a buy,
// the quote total for a sell.
func (t *Trade) IncomeCurrency(o *Order) string {
	if o.Side == SideBuy {
		return t.BaseCurrency
	}
	return t.QuoteCurrency
}

// OutcomeCurrency is the currency an order pays out.
func (t *Trade) OutcomeCurrency(o *Order) string {
	if o.Side == SideBuy {
		return t.QuoteCurrency
	}
	return t.BaseCurrency
}

// Fee is a revenue row charged out-of-band for a transfer. The transfer
// valuator matches it against a liability leg whose credit/debit exactly
// mirror the fee's debit/credit.
type Fee struct {
	Credit decimal.Decimal
	Debit  decimal.Decimal
}
