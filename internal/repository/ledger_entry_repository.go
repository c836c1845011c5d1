package repository

import (
	"context"

	"github.com/eaglebank/ledger-service/shared/models"
)

// LedgerEntryRepository appends and reads the transfer history.
type LedgerEntryRepository struct {
	db DBTX
}

func NewLedgerEntryRepository(db DBTX) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// Append inserts entry. created_at defaults to clock_timestamp(), taken at
// insert time rather than transaction start, so entries sort in the order
// their transfers reached the append step.
func (r *LedgerEntryRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (sender_bank_id, recipient_bank_id, action, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		entry.SenderBankID, entry.RecipientBankID, entry.Action, entry.Amount,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fault(err, "failed to append ledger entry")
	}
	return nil
}

const listRecordsQuery = `
	SELECT e.id, e.sender_bank_id, e.recipient_bank_id, e.action, e.amount, e.created_at,
		   s.given_name, s.family_name, r.given_name, r.family_name
	FROM ledger_entries e
	JOIN identities s ON s.bank_id = e.sender_bank_id
	JOIN identities r ON r.bank_id = e.recipient_bank_id
`

func (r *LedgerEntryRepository) ListSent(ctx context.Context, bankID string) ([]models.LedgerRecord, error) {
	return r.list(ctx, listRecordsQuery+`WHERE e.sender_bank_id = $1 ORDER BY e.created_at DESC, e.id DESC`, bankID)
}

func (r *LedgerEntryRepository) ListReceived(ctx context.Context, bankID string) ([]models.LedgerRecord, error) {
	return r.list(ctx, listRecordsQuery+`WHERE e.recipient_bank_id = $1 ORDER BY e.created_at DESC, e.id DESC`, bankID)
}

func (r *LedgerEntryRepository) list(ctx context.Context, query, bankID string) ([]models.LedgerRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, bankID)
	if err != nil {
		return nil, fault(err, "failed to list ledger entries")
	}
	defer rows.Close()

	var records []models.LedgerRecord
	for rows.Next() {
		var rec models.LedgerRecord
		var sender, recipient models.Identity
		if err := rows.Scan(
			&rec.ID, &rec.SenderBankID, &rec.RecipientBankID, &rec.Action, &rec.Amount, &rec.CreatedAt,
			&sender.GivenName, &sender.FamilyName, &recipient.GivenName, &recipient.FamilyName,
		); err != nil {
			return nil, fault(err, "failed to scan ledger entry")
		}
		rec.SenderName = sender.FullName()
		rec.RecipientName = recipient.FullName()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault(err, "failed to list ledger entries")
	}
	return records, nil
}
