// Package guard applies each payment to the ledger at most once.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/ledger"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

// Guard owns the ledger. The marker insert and the ledger debit always run in the same
// unit of work, so a marker exists exactly when the payment's entry was committed.
type Guard struct {
	coord  store.Coordinator
	ledger *ledger.Ledger
	log    *slog.Logger
	now    func() time.Time
}

func New(coord store.Coordinator, l *ledger.Ledger, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		coord:  coord,
		ledger: l,
		log:    log.With(slog.String("component", "guard")),
		now:    time.Now,
	}
}

// Debit posts entry unless its payment id has already been applied. Concurrent calls
// for one id yield a single Applied; every other call reports Duplicate.
func (g *Guard) Debit(ctx context.Context, entry domain.JournalEntry) domain.Outcome {
	if entry.PaymentID == "" {
		return domain.Failed(fmt.Errorf("%w: missing payment id", domain.ErrMalformedMessage))
	}

	outcome, err := g.coord.Within(ctx, func(ctx context.Context, tx store.Tx) domain.Outcome {
		inserted, err := tx.InsertMarker(ctx, entry.PaymentID, g.now().UTC())
		if err != nil {
			return domain.Failed(err)
		}
		if !inserted {
			return domain.Duplicate()
		}

		posted, err := g.ledger.Debit(ctx, tx, entry)
		if err != nil {
			return domain.Failed(err)
		}
		return domain.Applied(posted)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrTransactionFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
		}
		g.log.Error("unit_of_work_err", slog.String("payment_id", entry.PaymentID), slog.Any("err", err))
		return domain.Failed(err)
	}
	return outcome
}
