package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

const sqliteParams = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

var _ Store = (*SQLite)(nil)

// SQLite is a single-file store for local runs. Writers are serialized on one
// connection and every transaction starts with BEGIN IMMEDIATE.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqliteParams
	} else {
		dsn += "?" + sqliteParams
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLite) Within(ctx context.Context, fn UnitOfWork) (domain.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: tx begin failed: %v", domain.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	outcome := fn(ctx, &sqliteTx{tx: tx})
	if !outcome.Commit() {
		return outcome, nil
	}
	if err := tx.Commit(); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: tx commit failed: %v", domain.ErrTransactionFailed, err)
	}
	return outcome, nil
}

func (s *SQLite) OpenAccount(ctx context.Context, acc domain.Account) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, currency, balance, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING",
		acc.ID, acc.Currency, acc.Balance.String(), formatTime(createdAt(acc.CreatedAt)),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAccountExists
	}
	return nil
}

func (s *SQLite) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return scanSQLAccount(s.db.QueryRowContext(ctx,
		"SELECT id, currency, balance, created_at FROM accounts WHERE id = ?", id))
}

func (s *SQLite) HasMarker(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM payment_markers WHERE payment_id = ?)", paymentID,
	).Scan(&exists)
	return exists, err
}

func (s *SQLite) EntriesForPayment(ctx context.Context, paymentID string) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, debit_account, credit_account, counterparty, payment_id, amount, currency, posted_at
		FROM journal_entries WHERE payment_id = ? ORDER BY posted_at`,
		paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e                        domain.JournalEntry
			amount, currency, posted string
		)
		if err := rows.Scan(&e.ID, &e.DebitAccount, &e.CreditAccount, &e.Counterparty, &e.PaymentID, &amount, &currency, &posted); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("entry %s amount: %w", e.ID, err)
		}
		e.Amount = domain.Money{Currency: currency, Amount: d}
		if e.PostedAt, err = parseTime(posted); err != nil {
			return nil, fmt.Errorf("entry %s posted_at: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertMarker(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO payment_markers (payment_id, created_at) VALUES (?, ?) ON CONFLICT (payment_id) DO NOTHING",
		paymentID, formatTime(at),
	)
	if err != nil {
		return false, fmt.Errorf("marker insert failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marker insert failed: %w", err)
	}
	return n == 1, nil
}

// LockAccount relies on BEGIN IMMEDIATE: the write lock is already held.
func (t *sqliteTx) LockAccount(ctx context.Context, id string) (domain.Account, error) {
	return scanSQLAccount(t.tx.QueryRowContext(ctx,
		"SELECT id, currency, balance, created_at FROM accounts WHERE id = ?", id))
}

func (t *sqliteTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE accounts SET balance = ? WHERE id = ?", balance.String(), id); err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	return nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, e domain.JournalEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO journal_entries (id, debit_account, credit_account, counterparty, payment_id, amount, currency, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DebitAccount, e.CreditAccount, e.Counterparty, e.PaymentID, e.Amount.Amount.String(), e.Amount.Currency, formatTime(e.PostedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func scanSQLAccount(row *sql.Row) (domain.Account, error) {
	var (
		acc              domain.Account
		balance, created string
	)
	if err := row.Scan(&acc.ID, &acc.Currency, &balance, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s balance: %w", acc.ID, err)
	}
	acc.Balance = d
	if acc.CreatedAt, err = parseTime(created); err != nil {
		return domain.Account{}, fmt.Errorf("account %s created_at: %w", acc.ID, err)
	}
	return acc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
