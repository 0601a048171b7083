package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetter is the payload written to the dead-letter topic.
type DeadLetter struct {
	Topic         string    `json:"topic"`
	Partition     int       `json:"partition"`
	Offset        int64     `json:"offset"`
	Reason        string    `json:"reason"`
	LastError     string    `json:"last_error,omitempty"`
	Attempts      int       `json:"attempts"`
	DeadLetterAt  time.Time `json:"dead_lettered_at"`
	OriginalValue []byte    `json:"original_value"`
}

// deadLetter records a message that will not be redelivered. Without a dead-letter
// topic the message is only logged.
func (w *worker) deadLetter(ctx context.Context, msg kafka.Message, reason string, cause error, attempts int) {
	messagesTotal.WithLabelValues("dead_lettered").Inc()
	record := DeadLetter{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Reason:        reason,
		Attempts:      attempts,
		DeadLetterAt:  time.Now().UTC(),
		OriginalValue: msg.Value,
	}
	if cause != nil {
		record.LastError = cause.Error()
	}
	w.log.Error("dead_letter",
		slog.String("reason", reason),
		slog.Int64("offset", msg.Offset),
		slog.Int("partition", msg.Partition),
		slog.Int("attempts", attempts),
		slog.Any("err", cause),
	)
	if w.dlq == nil {
		return
	}

	body, err := json.Marshal(record)
	if err != nil {
		w.log.Error("dlq_marshal", slog.Any("err", err))
		return
	}
	if err := w.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: body}); err != nil {
		w.log.Error("dlq_write", slog.Any("err", err), slog.Int64("offset", msg.Offset))
	}
}
