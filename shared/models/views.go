package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"

	HistoryDateLayout = "Jan 02, 2006"
)

// TransferReceipt is returned to the caller once a transfer has committed.
// NewBalance is the sender's balance after the debit.
type TransferReceipt struct {
	Success       bool            `json:"success"`
	TransactionID int64           `json:"transaction_id"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Timestamp     time.Time       `json:"timestamp"`
}

type BalanceView struct {
	BankID        string          `json:"bank_id"`
	Balance       decimal.Decimal `json:"balance"`
	AccountHolder string          `json:"account_holder"`
}

// HistoryItem is one line of the merged history view. Amount is negative for
// debits.
type HistoryItem struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Timestamp   time.Time       `json:"timestamp"`
}

type HistoryPage struct {
	BankID       string        `json:"bank_id"`
	Transactions []HistoryItem `json:"transactions"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	Total        int           `json:"total"`
}
