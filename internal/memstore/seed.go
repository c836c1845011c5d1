package memstore

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/shopspring/decimal"
)

// SeedHolder is one account holder in a seed file. A holder without Balance
// is registered without an account.
type SeedHolder struct {
	GivenName  string           `json:"given_name"`
	FamilyName string           `json:"family_name"`
	NationalID string           `json:"national_id"`
	BankID     string           `json:"bank_id,omitempty"`
	Locale     string           `json:"locale,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
}

type Seed struct {
	Holders []SeedHolder `json:"holders"`
}

// Load registers every holder in r, in file order.
func (s *Store) Load(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for i, h := range seed.Holders {
		identity := models.Identity{
			GivenName:  h.GivenName,
			FamilyName: h.FamilyName,
			NationalID: h.NationalID,
			Locale:     h.Locale,
		}
		if h.BankID != "" {
			bankID := h.BankID
			identity.BankID = &bankID
		}
		if _, err := s.AddIdentity(identity); err != nil {
			return fmt.Errorf("holder %d: %w", i, err)
		}
		if h.Balance == nil {
			continue
		}
		if h.BankID == "" {
			return fmt.Errorf("holder %d: balance given without bank_id", i)
		}
		if err := s.OpenAccount(h.BankID, *h.Balance); err != nil {
			return fmt.Errorf("holder %d: %w", i, err)
		}
	}
	return nil
}
