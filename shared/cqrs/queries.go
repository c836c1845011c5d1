package cqrs

// GetBalanceQuery fetches the balance of a single account.
type GetBalanceQuery struct {
	BankID string
}

// GetHistoryQuery fetches one page of the merged sent/received history.
// Page and PageSize are expected to be validated by the caller.
type GetHistoryQuery struct {
	BankID   string
	Page     int
	PageSize int
}
