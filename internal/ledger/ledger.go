// Package ledger posts debits against account balances. It has no notion of duplicate
// payments; callers that need exactly-once application go through the guard package.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

type Option func(*Ledger)

// WithOverdraft lets balances go below zero.
func WithOverdraft(allow bool) Option {
	return func(l *Ledger) { l.allowOverdraft = allow }
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

type Ledger struct {
	allowOverdraft bool
	now            func() time.Time
}

func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Debit subtracts entry.Amount from the debit account and appends the entry, both through
// tx so they share the caller's transaction. It returns the entry as posted.
func (l *Ledger) Debit(ctx context.Context, tx store.Tx, entry domain.JournalEntry) (domain.JournalEntry, error) {
	if err := validate(entry); err != nil {
		return domain.JournalEntry{}, err
	}

	acc, err := tx.LockAccount(ctx, entry.DebitAccount)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.JournalEntry{}, &domain.ValidationError{Field: "debit_account", Message: fmt.Sprintf("account %q not found", entry.DebitAccount)}
		}
		return domain.JournalEntry{}, err
	}
	if acc.Currency != entry.Amount.Currency {
		return domain.JournalEntry{}, &domain.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("currency %s does not match account currency %s", entry.Amount.Currency, acc.Currency),
		}
	}

	next := acc.Balance.Sub(entry.Amount.Amount)
	if err := domain.CheckAmount(next); err != nil {
		return domain.JournalEntry{}, &domain.ValidationError{Field: "amount", Message: "resulting balance out of range: " + err.Error()}
	}
	if next.IsNegative() && entry.Amount.Amount.IsPositive() && !l.allowOverdraft {
		return domain.JournalEntry{}, fmt.Errorf("%w: account %s balance %s, debit %s",
			domain.ErrInsufficientFunds, acc.ID, acc.Balance.String(), entry.Amount)
	}

	entry.ID = uuid.NewString()
	entry.PostedAt = l.now().UTC()
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return domain.JournalEntry{}, err
	}
	if err := tx.UpdateBalance(ctx, acc.ID, next); err != nil {
		return domain.JournalEntry{}, err
	}
	return entry, nil
}

func validate(e domain.JournalEntry) error {
	switch {
	case strings.TrimSpace(e.DebitAccount) == "":
		return &domain.ValidationError{Field: "debit_account", Message: "required"}
	case strings.TrimSpace(e.CreditAccount) == "":
		return &domain.ValidationError{Field: "credit_account", Message: "required"}
	case strings.TrimSpace(e.PaymentID) == "":
		return &domain.ValidationError{Field: "payment_id", Message: "required"}
	case e.Amount.Currency == "":
		return &domain.ValidationError{Field: "amount", Message: "currency required"}
	}
	if err := domain.CheckAmount(e.Amount.Amount); err != nil {
		return &domain.ValidationError{Field: "amount", Message: err.Error()}
	}
	return nil
}
