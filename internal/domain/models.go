package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceLabel is recorded as the credit side of every entry posted by this service.
const SourceLabel = "fast-payer"

// memoPreviewLen bounds how much of a memo is ever surfaced in logs or responses.
const memoPreviewLen = 40

// Account represents a ledger account and its current balance.
type Account struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentMessage is one delivery of a payment notification from the feed.
type PaymentMessage struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Amount  Money  `json:"amount"`
	Memo    string `json:"memo"`
}

// DecodePaymentMessage decodes a feed payload. Any decode failure wraps ErrMalformedMessage.
func DecodePaymentMessage(b []byte) (PaymentMessage, error) {
	var msg PaymentMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return PaymentMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Validate checks the fields every payment needs before it reaches the guard: an id to
// deduplicate on and a currency-tagged amount.
func (m PaymentMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	if m.Amount.Currency == "" {
		return fmt.Errorf("%w: missing amount", ErrMalformedMessage)
	}
	return nil
}

// MemoPreview returns at most the first 40 characters of the memo with newlines as spaces.
func (m PaymentMessage) MemoPreview() string {
	memo := []rune(m.Memo)
	if len(memo) > memoPreviewLen {
		memo = memo[:memoPreviewLen]
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(string(memo))
}

func (m PaymentMessage) String() string {
	return fmt.Sprintf("payment[id=%s amount=%s memo=%q]", m.ID, m.Amount, m.MemoPreview())
}

// JournalEntry is a single debit posted against DebitAccount. At most one entry is
// ever committed per PaymentID.
type JournalEntry struct {
	ID            string    `json:"id"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Counterparty  string    `json:"counterparty,omitempty"`
	PaymentID     string    `json:"payment_id"`
	Amount        Money     `json:"amount"`
	PostedAt      time.Time `json:"posted_at"`
}

// PaymentRecord is the audit view of a payment id: its marker and the entry it guards.
type PaymentRecord struct {
	PaymentID string         `json:"payment_id"`
	Applied   bool           `json:"applied"`
	Entries   []JournalEntry `json:"entries"`
}
