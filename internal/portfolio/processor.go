// Package portfolio drives the batched reconciliation of ledger
// liabilities into per-member portfolio balances.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/azuaraj/peatio/internal/liability"
	"github.com/azuaraj/peatio/internal/observability"
	"github.com/azuaraj/peatio/internal/pricing"
	"github.com/azuaraj/peatio/internal/valuation"
)

// LedgerStore reads liabilities and the business events behind them.
// Implemented by liability.Reader.
type LedgerStore interface {
	NextSummaries(ctx context.Context, afterID int64, limit int) ([]liability.Summary, error)
	TransferRows(ctx context.Context, afterID int64, limit int) ([]liability.Event, error)
	FindDeposit(ctx context.Context, id int64) (*liability.Deposit, error)
	FindWithdraw(ctx context.Context, id int64) (*liability.Withdraw, error)
	FindTrade(ctx context.Context, id int64) (*liability.Trade, error)
	TransferFees(ctx context.Context, referenceID int64, currencyID string) ([]liability.Fee, error)
}

// BalanceStore holds durable portfolio balances.
// Implemented by persistence.BalanceStore.
type BalanceStore interface {
	MaxLiabilityID(ctx context.Context, portfolioCurrency string) (int64, error)
	Merge(ctx context.Context, deltas []valuation.Delta) error
}

// BatchSummary describes one successfully merged batch. Published to
// JetStream for downstream consumers.
type BatchSummary struct {
	RunID             uuid.UUID `json:"run_id"`
	PortfolioCurrency string    `json:"portfolio_currency"`
	Liabilities       int       `json:"liabilities"`
	Deltas            int       `json:"deltas"`
	Watermark         int64     `json:"watermark"`
	Timestamp         time.Time `json:"timestamp"`
}

// Processor folds unprocessed liabilities into portfolio balances, one
// portfolio currency at a time. Within a currency a batch is strictly
// sequential and all-or-nothing: any valuation failure aborts the batch
// before the merge, leaving the watermark untouched.
type Processor struct {
	ledger   LedgerStore
	balances BalanceStore
	prices   valuation.PriceSource
	transfer *valuation.TransferValuator

	limit   int
	log     zerolog.Logger
	metrics *observability.Metrics

	// Non-blocking: a full channel drops the summary, never the batch.
	publishChan chan<- BatchSummary
}

func NewProcessor(
	ledger LedgerStore,
	balances BalanceStore,
	prices valuation.PriceSource,
	limit int,
	log zerolog.Logger,
	metrics *observability.Metrics,
	publishChan chan<- BatchSummary,
) *Processor {
	return &Processor{
		ledger:      ledger,
		balances:    balances,
		prices:      prices,
		transfer:    valuation.NewTransferValuator(ledger, log),
		limit:       limit,
		log:         log,
		metrics:     metrics,
		publishChan: publishChan,
	}
}

// ProcessAll runs one pass over every configured portfolio currency.
// Currencies are isolated: a failing currency is logged and the pass moves
// on to the next one. Returns the number of liability rows seen across all
// currencies, so the caller can back off when the ledger is idle.
func (p *Processor) ProcessAll(ctx context.Context, currencies []string) int {
	total := 0
	for _, currency := range currencies {
		n, err := p.ProcessCurrency(ctx, currency)
		if err != nil {
			p.log.Error().Err(err).Str("currency", currency).
				Msg("failed to process portfolio currency")
			p.countFailure(currency, err)
			continue
		}
		total += n
	}
	if total == 0 && p.metrics != nil {
		p.metrics.IdlePasses.Inc()
	}
	return total
}

// ProcessCurrency runs one batch for a single portfolio currency: read
// above the watermark, value every event, then merge all deltas in one
// atomic upsert. Returns the number of liability rows seen.
func (p *Processor) ProcessCurrency(ctx context.Context, portfolioCurrency string) (int, error) {
	start := time.Now()
	runID := uuid.New()
	log := p.log.With().Str("currency", portfolioCurrency).Stringer("run", runID).Logger()

	watermark, err := p.balances.MaxLiabilityID(ctx, portfolioCurrency)
	if err != nil {
		return 0, err
	}

	var deltas []valuation.Delta
	count := 0

	summaries, err := p.ledger.NextSummaries(ctx, watermark, p.limit)
	if err != nil {
		return 0, err
	}

	for _, s := range summaries {
		count++
		log.Debug().Int64("liability", s.MaxID).Str("type", string(s.ReferenceType)).
			Msg("process liability")

		ds, err := p.valueSummary(ctx, portfolioCurrency, s)
		if err != nil {
			return 0, err
		}
		deltas = append(deltas, ds...)
	}

	transferRows, err := p.ledger.TransferRows(ctx, watermark, p.limit)
	if err != nil {
		return 0, err
	}
	count += len(transferRows)

	groups := valuation.GroupTransfers(transferRows)
	refs := make([]int64, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	for _, ref := range refs {
		ds, err := p.transfer.Value(ctx, portfolioCurrency, ref, groups[ref])
		if err != nil {
			return 0, err
		}
		deltas = append(deltas, ds...)
	}

	if len(deltas) > 0 {
		mergeStart := time.Now()
		if err := p.balances.Merge(ctx, deltas); err != nil {
			if p.metrics != nil {
				p.metrics.MergeErrors.Inc()
			}
			return 0, fmt.Errorf("merge batch for %s: %w", portfolioCurrency, err)
		}
		if p.metrics != nil {
			p.metrics.MergeDuration.Observe(time.Since(mergeStart).Seconds())
			p.metrics.DeltasMerged.WithLabelValues(portfolioCurrency).Add(float64(len(deltas)))
		}

		newWatermark := watermark
		for _, d := range deltas {
			if d.LiabilityID > newWatermark {
				newWatermark = d.LiabilityID
			}
		}

		log.Info().Int("liabilities", count).Int("deltas", len(deltas)).
			Int64("watermark", newWatermark).
			Dur("elapsed", time.Since(start)).
			Msg("batch merged")

		p.publish(BatchSummary{
			RunID:             runID,
			PortfolioCurrency: portfolioCurrency,
			Liabilities:       count,
			Deltas:            len(deltas),
			Watermark:         newWatermark,
			Timestamp:         time.Now(),
		})

		if p.metrics != nil {
			p.metrics.Watermark.WithLabelValues(portfolioCurrency).Set(float64(newWatermark))
		}
	}

	if p.metrics != nil {
		p.metrics.BatchesProcessed.WithLabelValues(portfolioCurrency).Inc()
		p.metrics.BatchDuration.WithLabelValues(portfolioCurrency).Observe(time.Since(start).Seconds())
		p.metrics.LiabilitiesProcessed.WithLabelValues(portfolioCurrency).Add(float64(count))
	}

	return count, nil
}

// valueSummary routes one business-event summary to its valuator.
// Adjustment events qualify for the watermark but carry no valuation of
// their own: their settlement legs are already folded into member balances
// by the ledger and have no counterparty flow to price.
func (p *Processor) valueSummary(ctx context.Context, portfolioCurrency string, s liability.Summary) ([]valuation.Delta, error) {
	switch s.ReferenceType {
	case liability.ReferenceDeposit:
		deposit, err := p.ledger.FindDeposit(ctx, s.ReferenceID)
		if err != nil {
			return nil, err
		}
		d, err := valuation.ValueDeposit(ctx, p.prices, portfolioCurrency, s.MaxID, deposit)
		if err != nil {
			return nil, err
		}
		return []valuation.Delta{d}, nil

	case liability.ReferenceWithdraw:
		withdraw, err := p.ledger.FindWithdraw(ctx, s.ReferenceID)
		if err != nil {
			return nil, err
		}
		d, err := valuation.ValueWithdraw(ctx, p.prices, portfolioCurrency, s.MaxID, withdraw)
		if err != nil {
			return nil, err
		}
		return []valuation.Delta{d}, nil

	case liability.ReferenceTrade:
		trade, err := p.ledger.FindTrade(ctx, s.ReferenceID)
		if err != nil {
			return nil, err
		}
		maker, err := valuation.ValueTradeOrder(ctx, p.prices, portfolioCurrency, s.MaxID, trade, &trade.MakerOrder)
		if err != nil {
			return nil, err
		}
		taker, err := valuation.ValueTradeOrder(ctx, p.prices, portfolioCurrency, s.MaxID, trade, &trade.TakerOrder)
		if err != nil {
			return nil, err
		}
		return append(maker, taker...), nil

	default:
		return nil, nil
	}
}

// Run polls the ledger until ctx is cancelled. When a pass finds no new
// liabilities the loop sleeps for idleDelay; a nudge on the wake channel
// (published by the ledger subsystem after appending liabilities) cuts the
// wait short.
func (p *Processor) Run(ctx context.Context, currencies []string, idleDelay time.Duration, wake <-chan struct{}) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := p.ProcessAll(ctx, currencies)
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-time.After(idleDelay):
		}
	}
}

func (p *Processor) publish(summary BatchSummary) {
	if p.publishChan == nil {
		return
	}
	select {
	case p.publishChan <- summary:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}

func (p *Processor) countFailure(currency string, err error) {
	if p.metrics == nil {
		return
	}
	reason := "store"
	switch {
	case errors.Is(err, pricing.ErrNoMarket):
		reason = "no_market"
	case errors.Is(err, pricing.ErrNoPriceData):
		reason = "no_price_data"
	case errors.Is(err, valuation.ErrTransferTooManyCurrencies),
		errors.Is(err, valuation.ErrTransferNoAnchor):
		reason = "transfer"
	}
	p.metrics.BatchFailures.WithLabelValues(currency, reason).Inc()
}
