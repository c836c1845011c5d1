package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity is a registered account holder. BankID is nil until the holder is
// given a funded account.
type Identity struct {
	ID         int64     `json:"id"`
	GivenName  string    `json:"givenName"`
	FamilyName string    `json:"familyName"`
	BankID     *string   `json:"bankId,omitempty"`
	NationalID string    `json:"-"`
	Locale     string    `json:"locale,omitempty"`
	Illness    string    `json:"-"`
	CreatedAt  time.Time `json:"createdTimestamp"`
	UpdatedAt  time.Time `json:"updatedTimestamp"`
}

// FullName is the display name used on receipts and history lines.
func (i Identity) FullName() string {
	return i.GivenName + " " + i.FamilyName
}

type Account struct {
	BankID    string          `json:"bankId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// LedgerEntry is one immutable record of a committed transfer.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	SenderBankID    string          `json:"senderBankId"`
	RecipientBankID string          `json:"recipientBankId"`
	Action          string          `json:"action"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
}

// LedgerRecord is a LedgerEntry joined with both parties' display names, as
// read back by the history path.
type LedgerRecord struct {
	LedgerEntry
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
}
