package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/guard"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payer_payments_total",
		Help: "Payment delivery attempts processed, labeled by outcome",
	}, []string{"outcome"})

	payDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payer_pay_duration_seconds",
		Help:    "Latency distribution of payment processing",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"outcome"})
)

// Processor turns one inbound payment message into a guarded ledger debit.
type Processor struct {
	guard        *guard.Guard
	debitAccount string
	log          *slog.Logger
}

func NewProcessor(g *guard.Guard, debitAccount string, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		guard:        g,
		debitAccount: debitAccount,
		log:          log.With(slog.String("component", "payer")),
	}
}

// Pay applies msg at most once. It never retries; a Failed outcome is safe to redeliver
// unless it wraps domain.ErrMalformedMessage.
func (p *Processor) Pay(ctx context.Context, msg domain.PaymentMessage) domain.Outcome {
	start := time.Now()
	outcome := p.pay(ctx, msg)

	label := string(outcome.Status)
	paymentsTotal.WithLabelValues(label).Inc()
	payDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return outcome
}

func (p *Processor) pay(ctx context.Context, msg domain.PaymentMessage) domain.Outcome {
	if err := msg.Validate(); err != nil {
		p.log.Warn("payment_rejected", slog.Any("err", err), slog.String("memo", msg.MemoPreview()))
		return domain.Failed(err)
	}

	outcome := p.guard.Debit(ctx, domain.JournalEntry{
		DebitAccount:  p.debitAccount,
		CreditAccount: domain.SourceLabel,
		Counterparty:  msg.Account,
		PaymentID:     msg.ID,
		Amount:        msg.Amount,
	})

	switch outcome.Status {
	case domain.StatusApplied:
		p.log.Info("paid",
			slog.String("payment_id", msg.ID),
			slog.String("amount", msg.Amount.String()),
			slog.String("memo", msg.MemoPreview()),
			slog.String("entry_id", outcome.Entry.ID),
		)
	case domain.StatusDuplicate:
		p.log.Debug("duplicate", slog.String("payment_id", msg.ID))
	default:
		p.log.Warn("payment_failed",
			slog.String("payment_id", msg.ID),
			slog.String("amount", msg.Amount.String()),
			slog.Bool("ledger_rejected", domain.IsLedgerFailure(outcome.Err)),
			slog.Any("err", outcome.Err),
		)
	}
	return outcome
}
