// Package store provides the transactional storage behind the ledger and the payment
// markers. Every backend offers the same guarantee: the writes made by one UnitOfWork
// commit together or not at all.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

// Tx is the set of writes available inside a unit of work.
type Tx interface {
	// InsertMarker records paymentID as seen. It returns false, without error, when a
	// marker already exists; the store's uniqueness constraint decides.
	InsertMarker(ctx context.Context, paymentID string, at time.Time) (bool, error)
	// LockAccount loads the account and holds it against concurrent debits until the
	// unit ends.
	LockAccount(ctx context.Context, id string) (domain.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	AppendEntry(ctx context.Context, entry domain.JournalEntry) error
}

// UnitOfWork runs inside one transaction. Its Outcome decides commit or abort.
type UnitOfWork func(ctx context.Context, tx Tx) domain.Outcome

// Coordinator runs units of work atomically.
type Coordinator interface {
	// Within commits when the returned Outcome's Commit() is true and rolls back
	// otherwise. The error is non-nil only when the transaction itself could not be
	// started or committed.
	Within(ctx context.Context, fn UnitOfWork) (domain.Outcome, error)
}

// Store is a Coordinator plus the administrative and audit operations around it.
type Store interface {
	Coordinator

	OpenAccount(ctx context.Context, acc domain.Account) error
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	HasMarker(ctx context.Context, paymentID string) (bool, error)
	EntriesForPayment(ctx context.Context, paymentID string) ([]domain.JournalEntry, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open connects to the backend named by driver and applies the schema.
func Open(ctx context.Context, driver, source string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case DriverPostgres:
		st, err = NewPostgres(ctx, source)
	case DriverSQLite:
		st, err = NewSQLite(source)
	case DriverMemory:
		st = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
