package repository

import (
	"context"
	"database/sql"

	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/eaglebank/ledger-service/shared/utils"
	"github.com/pkg/errors"
)

const identityColumns = `id, given_name, family_name, bank_id, national_id, locale, illness, created_at, updated_at`

// IdentityRepository is the PostgreSQL identity directory. Directory order is
// ascending id.
type IdentityRepository struct {
	db DBTX
}

func NewIdentityRepository(db DBTX) *IdentityRepository {
	return &IdentityRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var identity models.Identity
	var bankID, locale, illness sql.NullString
	if err := row.Scan(
		&identity.ID, &identity.GivenName, &identity.FamilyName, &bankID,
		&identity.NationalID, &locale, &illness, &identity.CreatedAt, &identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if bankID.Valid {
		identity.BankID = &bankID.String
	}
	identity.Locale = locale.String
	identity.Illness = illness.String
	return &identity, nil
}

func (r *IdentityRepository) ResolveByBankID(ctx context.Context, bankID string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE bank_id = $1`

	identity, err := scanIdentity(r.db.QueryRowContext(ctx, query, bankID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.UserNotFound(bankID)
	}
	if err != nil {
		return nil, fault(err, "failed to resolve identity")
	}
	return identity, nil
}

func (r *IdentityRepository) FindByFamilyNameFragment(ctx context.Context, fragment string) ([]models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE family_name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, utils.EscapeLikePattern(fragment))
	if err != nil {
		return nil, fault(err, "failed to search identities")
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fault(err, "failed to scan identity")
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fault(err, "failed to search identities")
	}
	return identities, nil
}
