// Package notify publishes batch summaries to NATS JetStream and wakes
// the processor when the ledger announces new liabilities.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/azuaraj/peatio/internal/observability"
	"github.com/azuaraj/peatio/internal/portfolio"
)

const (
	// BatchStream holds published batch summaries for downstream consumers.
	BatchStream = "PEATIO_PORTFOLIO_BATCHES"

	batchSubjectPrefix = "peatio.portfolio.batches"

	// LedgerSubject is the plain NATS subject the ledger writer announces
	// appends on. The payload is ignored; the announcement only wakes the
	// polling loop early.
	LedgerSubject = "peatio.ledger.liabilities"
)

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EnsureBatchStream creates the batch summary stream if it doesn't exist.
func EnsureBatchStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      BatchStream,
		Subjects:  []string{batchSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", BatchStream, err)
	}
	return nil
}

// BatchPublisher drains merged batch summaries and publishes them to
// JetStream. Publishing is best-effort: a failed publish is logged and
// dropped, the balances are already durable in Postgres.
type BatchPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan portfolio.BatchSummary
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewBatchPublisher(js jetstream.JetStream, inputChan <-chan portfolio.BatchSummary, log zerolog.Logger, metrics *observability.Metrics) *BatchPublisher {
	return &BatchPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
		metrics:   metrics,
	}
}

// Run starts the publisher loop. Returns when ctx is cancelled or the
// input channel closes.
func (bp *BatchPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case summary, ok := <-bp.inputChan:
			if !ok {
				return nil
			}

			if err := bp.publish(ctx, summary); err != nil {
				bp.log.Warn().Err(err).
					Str("currency", summary.PortfolioCurrency).
					Stringer("run", summary.RunID).
					Msg("batch summary publish failed")
				if bp.metrics != nil {
					bp.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (bp *BatchPublisher) publish(ctx context.Context, summary portfolio.BatchSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal batch summary: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", batchSubjectPrefix, summary.PortfolioCurrency)
	_, err = bp.js.Publish(ctx, subject, data)
	return err
}

// SubscribeWake listens for ledger append announcements and nudges the
// processor's wake channel. The nudge is non-blocking: a pending nudge
// already guarantees a prompt pass, extra announcements are redundant.
func SubscribeWake(nc *nats.Conn, wake chan<- struct{}, log zerolog.Logger) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(LedgerSubject, func(_ *nats.Msg) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", LedgerSubject, err)
	}
	log.Info().Str("subject", LedgerSubject).Msg("listening for ledger announcements")
	return sub, nil
}
