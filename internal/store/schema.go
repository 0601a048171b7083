package store

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    currency   CHAR(3) NOT NULL,
    balance    NUMERIC(20, 4) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_markers (
    payment_id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id             UUID PRIMARY KEY,
    debit_account  TEXT NOT NULL REFERENCES accounts (id),
    credit_account TEXT NOT NULL,
    counterparty   TEXT NOT NULL DEFAULT '',
    payment_id     TEXT NOT NULL UNIQUE REFERENCES payment_markers (payment_id),
    amount         NUMERIC(20, 4) NOT NULL,
    currency       CHAR(3) NOT NULL,
    posted_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_debit_account ON journal_entries (debit_account, posted_at);
`

// SQLite has no NUMERIC precision worth trusting; amounts are stored as decimal text.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    currency   TEXT NOT NULL,
    balance    TEXT NOT NULL DEFAULT '0',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_markers (
    payment_id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id             TEXT PRIMARY KEY,
    debit_account  TEXT NOT NULL REFERENCES accounts (id),
    credit_account TEXT NOT NULL,
    counterparty   TEXT NOT NULL DEFAULT '',
    payment_id     TEXT NOT NULL UNIQUE REFERENCES payment_markers (payment_id),
    amount         TEXT NOT NULL,
    currency       TEXT NOT NULL,
    posted_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_debit_account ON journal_entries (debit_account, posted_at);
`
