package liability

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// Reader pulls unprocessed ledger rows from Postgres. All queries are
// read-only; the ledger subsystem owns the tables.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// NextSummaries returns business-event summaries for liabilities above
// afterID, one row per distinct reference, ordered ascending by the group's
// maximum liability id and capped at limit. Only settlement legs qualify:
// codes 201/202 for Trade, Deposit and Adjustment, 211/212 for Withdraw.
// MIN() picks the representative type/id; it is an aggregate only to satisfy
// GROUP BY, every row of a group carries the same reference.
func (r *Reader) NextSummaries(ctx context.Context, afterID int64, limit int) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT MAX(id) AS id, MIN(reference_type) AS reference_type, MIN(reference_id) AS reference_id
		FROM liabilities
		WHERE id > $1
		  AND ((reference_type IN ('Trade','Deposit','Adjustment') AND code IN (201,202))
		    OR (reference_type = 'Withdraw' AND code IN (211,212)))
		GROUP BY reference_id
		ORDER BY MAX(id) ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query liability summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.MaxID, &s.ReferenceType, &s.ReferenceID); err != nil {
			return nil, fmt.Errorf("scan liability summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// TransferRows returns raw Transfer-typed liability rows above afterID,
// ordered ascending by id. Transfers are read ungrouped because valuation
// needs every individual leg, not an event summary.
func (r *Reader) TransferRows(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, reference_type, reference_id, currency_id, member_id,
		       credit::TEXT, debit::TEXT, code, created_at
		FROM liabilities
		WHERE id > $1
		  AND reference_type = 'Transfer'
		  AND code IN (201,202,211,212)
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfer rows: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var credit, debit string
		if err := rows.Scan(&e.ID, &e.ReferenceType, &e.ReferenceID, &e.CurrencyID,
			&e.MemberID, &credit, &debit, &e.Code, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		if e.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, fmt.Errorf("parse credit %q: %w", credit, err)
		}
		if e.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, fmt.Errorf("parse debit %q: %w", debit, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindDeposit loads the deposit behind a Deposit-typed summary.
func (r *Reader) FindDeposit(ctx context.Context, id int64) (*Deposit, error) {
	var d Deposit
	var amount, fee string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, member_id, currency_id, amount::TEXT, fee::TEXT, created_at
		FROM deposits WHERE id = $1
	`, id).Scan(&d.ID, &d.MemberID, &d.CurrencyID, &amount, &fee, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find deposit %d: %w", id, err)
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse deposit amount %q: %w", amount, err)
	}
	if d.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse deposit fee %q: %w", fee, err)
	}
	return &d, nil
}

// FindWithdraw loads the withdraw behind a Withdraw-typed summary. Fee is
// the sum charged on top of the withdrawn amount.
func (r *Reader) FindWithdraw(ctx context.Context, id int64) (*Withdraw, error) {
	var w Withdraw
	var amount, fee string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, member_id, currency_id, amount::TEXT, fee::TEXT, created_at
		FROM withdraws WHERE id = $1
	`, id).Scan(&w.ID, &w.MemberID, &w.CurrencyID, &amount, &fee, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find withdraw %d: %w", id, err)
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse withdraw amount %q: %w", amount, err)
	}
	if w.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse withdraw fee %q: %w", fee, err)
	}
	return &w, nil
}

// FindTrade loads a trade with both of its orders and the market's currency
// pair. The maker order carries the market maker fee, the taker order the
// taker fee.
func (r *Reader) FindTrade(ctx context.Context, id int64) (*Trade, error) {
	var t Trade
	var price, amount, total string
	var makerFee, takerFee string
	err := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.market_id, m.base_unit, m.quote_unit,
		       t.price::TEXT, t.amount::TEXT, t.total::TEXT,
		       mo.id, mo.member_id, mo.side, m.maker_fee::TEXT,
		       to_.id, to_.member_id, to_.side, m.taker_fee::TEXT,
		       t.created_at
		FROM trades t
		JOIN markets m ON m.id = t.market_id
		JOIN orders mo ON mo.id = t.maker_order_id
		JOIN orders to_ ON to_.id = t.taker_order_id
		WHERE t.id = $1
	`, id).Scan(&t.ID, &t.MarketID, &t.BaseCurrency, &t.QuoteCurrency,
		&price, &amount, &total,
		&t.MakerOrder.ID, &t.MakerOrder.MemberID, &t.MakerOrder.Side, &makerFee,
		&t.TakerOrder.ID, &t.TakerOrder.MemberID, &t.TakerOrder.Side, &takerFee,
		&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find trade %d: %w", id, err)
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&t.Price, price}, {&t.Amount, amount}, {&t.Total, total},
		{&t.MakerOrder.FeeRate, makerFee}, {&t.TakerOrder.FeeRate, takerFee},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("parse trade %d numeric %q: %w", id, f.src, err)
		}
	}
	return &t, nil
}

// TransferFees returns the revenue rows charged for one transfer reference
// in one currency. Used by the transfer valuator to net out fee legs.
func (r *Reader) TransferFees(ctx context.Context, referenceID int64, currencyID string) ([]Fee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT credit::TEXT, debit::TEXT
		FROM revenues
		WHERE reference_type = 'Transfer' AND reference_id = $1 AND currency_id = $2
	`, referenceID, currencyID)
	if err != nil {
		return nil, fmt.Errorf("query transfer fees: %w", err)
	}
	defer rows.Close()

	var fees []Fee
	for rows.Next() {
		var f Fee
		var credit, debit string
		if err := rows.Scan(&credit, &debit); err != nil {
			return nil, fmt.Errorf("scan transfer fee: %w", err)
		}
		if f.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, fmt.Errorf("parse fee credit %q: %w", credit, err)
		}
		if f.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, fmt.Errorf("parse fee debit %q: %w", debit, err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}
