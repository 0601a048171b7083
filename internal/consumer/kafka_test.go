package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/guard"
	"github.com/punchamoorthee/fastpayer/internal/ledger"
	"github.com/punchamoorthee/fastpayer/internal/service"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type scriptedPayer struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	seen     []domain.PaymentMessage
}

func (p *scriptedPayer) Pay(_ context.Context, msg domain.PaymentMessage) domain.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, msg)
	if len(p.outcomes) == 0 {
		return domain.Duplicate()
	}
	o := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	return o
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func testWorker(r reader, dlq writer, payer Payer, maxAttempts int) *worker {
	w := newWorker(r, dlq, payer, Config{Topic: "payments", MaxAttempts: maxAttempts, RetryBackoff: time.Millisecond}, discard)
	w.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return w
}

func paymentValue(t *testing.T, id string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"id": id, "account": "acme", "amount": "USD 10.00", "memo": "hello"})
	require.NoError(t, err)
	return b
}

func TestHandleAppliedAndDuplicateAreFinal(t *testing.T) {
	payer := &scriptedPayer{outcomes: []domain.Outcome{domain.Applied(domain.JournalEntry{}), domain.Duplicate()}}
	w := testWorker(nil, nil, payer, 3)

	assert.True(t, w.handle(context.Background(), kafka.Message{Value: paymentValue(t, "abc")}))
	assert.True(t, w.handle(context.Background(), kafka.Message{Value: paymentValue(t, "abc")}))
	require.Len(t, payer.seen, 2)
	assert.Equal(t, "abc", payer.seen[0].ID)
	assert.Equal(t, "USD 10.00", payer.seen[0].Amount.String())
}

func TestHandleMalformedGoesToDeadLetter(t *testing.T) {
	payer := &scriptedPayer{}
	dlq := &fakeWriter{}
	w := testWorker(nil, dlq, payer, 3)

	assert.True(t, w.handle(context.Background(), kafka.Message{Topic: "payments", Offset: 7, Value: []byte("{not json")}))
	assert.Empty(t, payer.seen, "malformed payloads never reach the payer")
	require.Len(t, dlq.msgs, 1)

	var rec DeadLetter
	require.NoError(t, json.Unmarshal(dlq.msgs[0].Value, &rec))
	assert.Equal(t, "malformed", rec.Reason)
	assert.Equal(t, int64(7), rec.Offset)
	assert.Equal(t, []byte("{not json"), rec.OriginalValue)
}

func TestHandleMissingIDIsNotRetried(t *testing.T) {
	payer := &scriptedPayer{outcomes: []domain.Outcome{domain.Failed(domain.PaymentMessage{}.Validate())}}
	dlq := &fakeWriter{}
	w := testWorker(nil, dlq, payer, 5)

	assert.True(t, w.handle(context.Background(), kafka.Message{Value: paymentValue(t, "")}))
	assert.Len(t, payer.seen, 1)
	assert.Len(t, dlq.msgs, 1)
}

// countingPayer records how often the wrapped payer was asked to pay.
type countingPayer struct {
	Payer
	calls int
}

func (p *countingPayer) Pay(ctx context.Context, msg domain.PaymentMessage) domain.Outcome {
	p.calls++
	return p.Payer.Pay(ctx, msg)
}

func TestHandleMissingAmountIsDeadLetteredOnce(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.OpenAccount(context.Background(), domain.Account{ID: "fp", Currency: "USD"}))
	payer := &countingPayer{Payer: service.NewProcessor(guard.New(st, ledger.New(), discard), "fp", discard)}
	dlq := &fakeWriter{}
	w := testWorker(nil, dlq, payer, 5)

	assert.True(t, w.handle(context.Background(), kafka.Message{Value: []byte(`{"id":"x","account":"acme"}`)}))
	assert.Equal(t, 1, payer.calls)
	require.Len(t, dlq.msgs, 1)

	var rec DeadLetter
	require.NoError(t, json.Unmarshal(dlq.msgs[0].Value, &rec))
	assert.Equal(t, "malformed", rec.Reason)
	assert.Equal(t, 1, rec.Attempts)

	has, err := st.HasMarker(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHandleRedeliversFailures(t *testing.T) {
	payer := &scriptedPayer{outcomes: []domain.Outcome{
		domain.Failed(domain.ErrInsufficientFunds),
		domain.Failed(domain.ErrTransactionFailed),
		domain.Applied(domain.JournalEntry{}),
	}}
	dlq := &fakeWriter{}
	w := testWorker(nil, dlq, payer, 5)

	assert.True(t, w.handle(context.Background(), kafka.Message{Value: paymentValue(t, "p")}))
	assert.Len(t, payer.seen, 3)
	assert.Empty(t, dlq.msgs)
}

func TestHandleDeadLettersWhenAttemptsRunOut(t *testing.T) {
	payer := &scriptedPayer{outcomes: []domain.Outcome{
		domain.Failed(domain.ErrInsufficientFunds),
		domain.Failed(domain.ErrInsufficientFunds),
	}}
	dlq := &fakeWriter{}
	w := testWorker(nil, dlq, payer, 2)

	assert.True(t, w.handle(context.Background(), kafka.Message{Value: paymentValue(t, "p")}))
	assert.Len(t, payer.seen, 2)
	require.Len(t, dlq.msgs, 1)

	var rec DeadLetter
	require.NoError(t, json.Unmarshal(dlq.msgs[0].Value, &rec))
	assert.Equal(t, "exhausted", rec.Reason)
	assert.Equal(t, 2, rec.Attempts)
	assert.Contains(t, rec.LastError, "insufficient funds")
}

func TestHandleStopsOnShutdownWithoutFinalDisposition(t *testing.T) {
	payer := &scriptedPayer{outcomes: []domain.Outcome{domain.Failed(domain.ErrTransactionFailed)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := testWorker(nil, nil, payer, 5)
	assert.False(t, w.handle(ctx, kafka.Message{Value: paymentValue(t, "p")}))
}

func TestRunCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: paymentValue(t, "a")},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: paymentValue(t, "a")},
	}}
	payer := &scriptedPayer{outcomes: []domain.Outcome{domain.Applied(domain.JournalEntry{}), domain.Duplicate()}}
	w := testWorker(r, nil, payer, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.True(t, r.closed)
	assert.Equal(t, int64(1), r.committed[0].Offset)
	assert.Equal(t, int64(3), r.committed[2].Offset)
}

func TestStartValidatesConfig(t *testing.T) {
	_, err := Start(context.Background(), Config{}, &scriptedPayer{}, discard)
	assert.Error(t, err)

	_, err = Start(context.Background(), Config{Brokers: []string{"b:9092"}, Topic: "t", GroupID: "g", Workers: 0, MaxAttempts: 1}, &scriptedPayer{}, discard)
	assert.Error(t, err)

	_, err = Start(context.Background(), Config{Brokers: []string{"b:9092"}, Topic: "t", GroupID: "g", Workers: 1, MaxAttempts: 1}, nil, discard)
	assert.Error(t, err)
}
