package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

const pgUniqueViolation = "23505"

var _ Store = (*Postgres)(nil)

// Postgres is the production store. Marker uniqueness is the payment_markers primary key.
type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Within runs fn under READ COMMITTED. A concurrent insert of the same marker blocks on
// the uncommitted row and then sees the conflict, so no serialization retry is needed.
func (s *Postgres) Within(ctx context.Context, fn UnitOfWork) (domain.Outcome, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: tx begin failed: %v", domain.ErrTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	outcome := fn(ctx, &pgTx{tx: tx})
	if !outcome.Commit() {
		return outcome, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: tx commit failed: %v", domain.ErrTransactionFailed, err)
	}
	return outcome, nil
}

// OpenAccount creates an account with an opening balance.
func (s *Postgres) OpenAccount(ctx context.Context, acc domain.Account) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO accounts (id, currency, balance, created_at) VALUES ($1, $2, $3, $4)",
		acc.ID, acc.Currency, acc.Balance.String(), createdAt(acc.CreatedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrAccountExists
	}
	return err
}

// GetAccount retrieves a single account by ID.
func (s *Postgres) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(s.Db.QueryRow(ctx,
		"SELECT id, currency, balance::text, created_at FROM accounts WHERE id = $1", id))
}

func (s *Postgres) HasMarker(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payment_markers WHERE payment_id = $1)", paymentID,
	).Scan(&exists)
	return exists, err
}

// EntriesForPayment retrieves the journal entries recorded for a payment id.
func (s *Postgres) EntriesForPayment(ctx context.Context, paymentID string) ([]domain.JournalEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id::text, debit_account, credit_account, counterparty, payment_id, amount::text, currency, posted_at
		FROM journal_entries WHERE payment_id = $1 ORDER BY posted_at`,
		paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertMarker(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		"INSERT INTO payment_markers (payment_id, created_at) VALUES ($1, $2) ON CONFLICT (payment_id) DO NOTHING",
		paymentID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("marker insert failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (domain.Account, error) {
	acc, err := scanAccount(t.tx.QueryRow(ctx,
		"SELECT id, currency, balance::text, created_at FROM accounts WHERE id = $1 FOR UPDATE", id))
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return acc, err
}

func (t *pgTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, "UPDATE accounts SET balance = $1 WHERE id = $2", balance.String(), id)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e domain.JournalEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO journal_entries (id, debit_account, credit_account, counterparty, payment_id, amount, currency, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.DebitAccount, e.CreditAccount, e.Counterparty, e.PaymentID, e.Amount.Amount.String(), e.Amount.Currency, e.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc     domain.Account
		balance string
	)
	if err := row.Scan(&acc.ID, &acc.Currency, &balance, &acc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s balance: %w", acc.ID, err)
	}
	acc.Balance = d
	return acc, nil
}

func scanEntry(rows pgx.Rows) (domain.JournalEntry, error) {
	var (
		e        domain.JournalEntry
		amount   string
		currency string
	)
	if err := rows.Scan(&e.ID, &e.DebitAccount, &e.CreditAccount, &e.Counterparty, &e.PaymentID, &amount, &currency, &e.PostedAt); err != nil {
		return domain.JournalEntry{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("entry %s amount: %w", e.ID, err)
	}
	e.Amount = domain.Money{Currency: currency, Amount: d}
	return e, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
