// Package consumer feeds payment messages from a Kafka consumer group into the payer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payer_consumer_messages_total",
	Help: "Feed messages handled by the consumer, labeled by disposition",
}, []string{"disposition"})

// Config groups the Kafka ingestion settings.
type Config struct {
	Brokers      []string
	Topic        string
	GroupID      string
	DLQTopic     string
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("topic must not be empty")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.New("group id must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive: %d", c.MaxAttempts)
	}
	return nil
}

// Payer is the processing step each delivered message goes through.
type Payer interface {
	Pay(ctx context.Context, msg domain.PaymentMessage) domain.Outcome
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Manager tracks the lifecycle of all background workers.
type Manager struct {
	wg      sync.WaitGroup
	workers []*worker
	dlq     writer
	log     *slog.Logger
}

// Start launches cfg.Workers readers in one consumer group. Workers stop when ctx ends.
func Start(ctx context.Context, cfg Config, payer Payer, log *slog.Logger) (*Manager, error) {
	if payer == nil {
		return nil, errors.New("payer must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mgr := &Manager{log: log}
	if cfg.DLQTopic != "" {
		mgr.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: []string{cfg.Topic},
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
		w := newWorker(r, mgr.dlq, payer, cfg, log.With(slog.String("component", "consumer"), slog.Int("worker", i)))
		mgr.workers = append(mgr.workers, w)
		mgr.wg.Add(1)
		go func(w *worker) {
			defer mgr.wg.Done()
			w.run(ctx)
		}(w)
	}
	return mgr, nil
}

// Wait blocks until every worker has finished, then closes the dead-letter writer.
func (m *Manager) Wait() {
	m.wg.Wait()
	if m.dlq != nil {
		if err := m.dlq.Close(); err != nil {
			m.log.Error("dlq_close", slog.Any("err", err))
		}
	}
}

type worker struct {
	reader      reader
	dlq         writer
	payer       Payer
	log         *slog.Logger
	topic       string
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func newWorker(r reader, dlq writer, payer Payer, cfg Config, log *slog.Logger) *worker {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &worker{
		reader:      r,
		dlq:         dlq,
		payer:       payer,
		log:         log,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
		backoff:     backoff,
		sleep:       sleepCtx,
	}
}

func (w *worker) run(ctx context.Context) {
	defer func() {
		if err := w.reader.Close(); err != nil {
			w.log.Error("reader_close", slog.Any("err", err))
		}
	}()
	w.log.Info("consumer_start", slog.String("topic", w.topic))

	backoff := time.Second
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.log.Info("consumer_stop", slog.String("reason", "context"))
				return
			}
			w.log.Error("fetch_err", slog.Any("err", err))
			if w.sleep(ctx, backoff) != nil {
				w.log.Info("consumer_stop", slog.String("reason", "shutdown"))
				return
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if !w.handle(ctx, msg) {
			// Shutdown mid-redelivery: leave the offset uncommitted so the group redelivers it.
			return
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.log.Error("commit_err", slog.Any("err", err), slog.Int64("offset", msg.Offset), slog.Int("partition", msg.Partition))
		}
	}
}

// handle delivers msg to the payer, redelivering retryable failures until attempts run
// out. It returns false only when ctx ended before msg reached a final disposition.
func (w *worker) handle(ctx context.Context, msg kafka.Message) bool {
	payment, err := domain.DecodePaymentMessage(msg.Value)
	if err != nil {
		w.deadLetter(ctx, msg, "malformed", err, 1)
		return true
	}

	backoff := w.backoff
	for attempt := 1; ; attempt++ {
		outcome := w.payer.Pay(ctx, payment)
		switch {
		case outcome.Status != domain.StatusFailed:
			messagesTotal.WithLabelValues(string(outcome.Status)).Inc()
			return true
		case !domain.IsRetryable(outcome.Err):
			w.deadLetter(ctx, msg, "malformed", outcome.Err, attempt)
			return true
		case attempt >= w.maxAttempts:
			w.deadLetter(ctx, msg, "exhausted", outcome.Err, attempt)
			return true
		}

		w.log.Warn("redeliver",
			slog.String("payment_id", payment.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", outcome.Err),
		)
		messagesTotal.WithLabelValues("redelivered").Inc()
		if w.sleep(ctx, backoff) != nil {
			return false
		}
		backoff *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
