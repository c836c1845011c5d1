package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	TransferCompleted = "transfer.completed"
)

// Stream names
const (
	LedgerEventsStream = "ledger.events"
)

// Event is the envelope written to a stream. Data is decoded by the handler
// for the event's Type.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type TransferCompletedEvent struct {
	EntryID         int64           `json:"entryId"`
	SenderBankID    string          `json:"senderBankId"`
	RecipientBankID string          `json:"recipientBankId"`
	Amount          decimal.Decimal `json:"amount"`
	SenderBalance   decimal.Decimal `json:"senderBalance"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
}
