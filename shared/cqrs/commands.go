package cqrs

import "github.com/shopspring/decimal"

// TransferCommand moves Amount from the sender's account to the account of
// the identity matched by Recipient.
type TransferCommand struct {
	SenderBankID string
	Recipient    string
	Amount       decimal.Decimal
	Description  string
}
