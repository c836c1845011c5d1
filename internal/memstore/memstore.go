// Package memstore is an in-process implementation of store.Store for local
// runs and tests. A unit of work holds the store's write lock and buffers its
// balance deltas and entries, applying them only on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/shopspring/decimal"
)

type account struct {
	balance   decimal.Decimal
	updatedAt time.Time
}

type Store struct {
	mu         sync.RWMutex
	identities []models.Identity
	byBankID   map[string]int
	nationalID map[string]struct{}
	accounts   map[string]*account
	entries    []models.LedgerEntry
	lastStamp  time.Time
	now        func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now as the source of entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		byBankID:   make(map[string]int),
		nationalID: make(map[string]struct{}),
		accounts:   make(map[string]*account),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// AddIdentity registers an identity and returns it with its id assigned.
func (s *Store) AddIdentity(identity models.Identity) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.nationalID[identity.NationalID]; dup {
		return models.Identity{}, apperror.Validation("national id %q already registered", identity.NationalID)
	}
	if identity.BankID != nil {
		if _, dup := s.byBankID[*identity.BankID]; dup {
			return models.Identity{}, apperror.Validation("bank id %q already registered", *identity.BankID)
		}
	}

	now := s.now().UTC()
	identity.ID = int64(len(s.identities) + 1)
	identity.CreatedAt = now
	identity.UpdatedAt = now
	s.identities = append(s.identities, identity)
	s.nationalID[identity.NationalID] = struct{}{}
	if identity.BankID != nil {
		s.byBankID[*identity.BankID] = len(s.identities) - 1
	}
	return identity, nil
}

// OpenAccount creates the account of an identity that already has bankID.
func (s *Store) OpenAccount(bankID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byBankID[bankID]; !ok {
		return apperror.UserNotFound(bankID)
	}
	if _, ok := s.accounts[bankID]; ok {
		return apperror.Validation("account %q already exists", bankID)
	}
	if balance.IsNegative() {
		return apperror.Validation("opening balance must not be negative")
	}
	s.accounts[bankID] = &account{balance: balance, updatedAt: s.now().UTC()}
	return nil
}

func (s *Store) Identities() store.IdentityDirectory { return &view{s: s} }
func (s *Store) Accounts() store.AccountStore        { return &view{s: s} }
func (s *Store) Entries() store.EntryLog             { return &view{s: s} }

// WithinTx runs fn while holding the write lock. fn must only use tx: calling
// the Store's own accessors from inside fn deadlocks.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperror.StoreFault(err, "unit of work not started", false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &view{s: s, tx: &pending{deltas: make(map[string]decimal.Decimal)}}
	defer func() { tx.tx.done = true }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperror.StoreFault(err, "unit of work cancelled before commit", false)
	}
	s.commit(tx.tx)
	return nil
}

func (s *Store) commit(p *pending) {
	now := s.now().UTC()
	for bankID, delta := range p.deltas {
		acct := s.accounts[bankID]
		acct.balance = acct.balance.Add(delta)
		acct.updatedAt = now
	}
	s.entries = append(s.entries, p.entries...)
	if n := len(p.entries); n > 0 {
		s.lastStamp = p.entries[n-1].CreatedAt
	}
}

// stamp returns a timestamp no earlier than any entry appended before it.
func (s *Store) stamp(p *pending) time.Time {
	last := s.lastStamp
	if p != nil && len(p.entries) > 0 {
		last = p.entries[len(p.entries)-1].CreatedAt
	}
	now := s.now().UTC()
	if now.Before(last) {
		return last
	}
	return now
}

type pending struct {
	deltas  map[string]decimal.Decimal
	entries []models.LedgerEntry
	done    bool
}

// view implements the store ports. With tx == nil every call is its own
// atomic step; otherwise the caller already holds the write lock.
type view struct {
	s  *Store
	tx *pending
}

func (v *view) Identities() store.IdentityDirectory { return v }
func (v *view) Accounts() store.AccountStore        { return v }
func (v *view) Entries() store.EntryLog             { return v }

func (v *view) rlock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.RLock()
	return v.s.mu.RUnlock
}

func (v *view) wlock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v *view) checkUsable(ctx context.Context) error {
	if v.tx != nil && v.tx.done {
		return apperror.StoreFault(nil, "unit of work already finished", false)
	}
	if err := ctx.Err(); err != nil {
		return apperror.StoreFault(err, "operation cancelled", false)
	}
	return nil
}

func (v *view) ResolveByBankID(ctx context.Context, bankID string) (*models.Identity, error) {
	if err := v.checkUsable(ctx); err != nil {
		return nil, err
	}
	defer v.rlock()()

	idx, ok := v.s.byBankID[bankID]
	if !ok {
		return nil, apperror.UserNotFound(bankID)
	}
	identity := v.s.identities[idx]
	return &identity, nil
}

func (v *view) FindByFamilyNameFragment(ctx context.Context, fragment string) ([]models.Identity, error) {
	if err := v.checkUsable(ctx); err != nil {
		return nil, err
	}
	defer v.rlock()()

	needle := strings.ToLower(fragment)
	var matches []models.Identity
	for _, identity := range v.s.identities {
		if strings.Contains(strings.ToLower(identity.FamilyName), needle) {
			matches = append(matches, identity)
		}
	}
	return matches, nil
}

func (v *view) balance(bankID string) (decimal.Decimal, *account, bool) {
	acct, ok := v.s.accounts[bankID]
	if !ok {
		return decimal.Zero, nil, false
	}
	bal := acct.balance
	if v.tx != nil {
		bal = bal.Add(v.tx.deltas[bankID])
	}
	return bal, acct, true
}

func (v *view) Get(ctx context.Context, bankID string) (*models.Account, error) {
	if err := v.checkUsable(ctx); err != nil {
		return nil, err
	}
	defer v.rlock()()

	bal, acct, ok := v.balance(bankID)
	if !ok {
		return nil, apperror.AccountNotFound(fmt.Sprintf("No account for bank_id='%s'.", bankID))
	}
	return &models.Account{BankID: bankID, Balance: bal, UpdatedAt: acct.updatedAt}, nil
}

func (v *view) Adjust(ctx context.Context, bankID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := v.checkUsable(ctx); err != nil {
		return decimal.Zero, err
	}
	defer v.wlock()()

	bal, acct, ok := v.balance(bankID)
	if !ok {
		return decimal.Zero, apperror.AccountNotFound(fmt.Sprintf("No account for bank_id='%s'.", bankID))
	}
	next := bal.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperror.InsufficientFunds(bal, delta.Neg())
	}
	if v.tx != nil {
		v.tx.deltas[bankID] = v.tx.deltas[bankID].Add(delta)
	} else {
		acct.balance = next
		acct.updatedAt = v.s.now().UTC()
	}
	return next, nil
}

func (v *view) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if err := v.checkUsable(ctx); err != nil {
		return err
	}
	defer v.wlock()()

	for _, bankID := range []string{entry.SenderBankID, entry.RecipientBankID} {
		if _, ok := v.s.byBankID[bankID]; !ok {
			return apperror.StoreFault(nil, fmt.Sprintf("ledger entry references unknown bank_id='%s'", bankID), false)
		}
	}
	if !entry.Amount.IsPositive() {
		return apperror.StoreFault(nil, "ledger entry amount must be positive", false)
	}

	entry.ID = int64(len(v.s.entries)) + 1
	entry.CreatedAt = v.s.stamp(v.tx)
	if v.tx != nil {
		entry.ID += int64(len(v.tx.entries))
		v.tx.entries = append(v.tx.entries, *entry)
		return nil
	}
	v.s.entries = append(v.s.entries, *entry)
	v.s.lastStamp = entry.CreatedAt
	return nil
}

func (v *view) ListSent(ctx context.Context, bankID string) ([]models.LedgerRecord, error) {
	return v.list(ctx, func(e models.LedgerEntry) bool { return e.SenderBankID == bankID })
}

func (v *view) ListReceived(ctx context.Context, bankID string) ([]models.LedgerRecord, error) {
	return v.list(ctx, func(e models.LedgerEntry) bool { return e.RecipientBankID == bankID })
}

func (v *view) list(ctx context.Context, match func(models.LedgerEntry) bool) ([]models.LedgerRecord, error) {
	if err := v.checkUsable(ctx); err != nil {
		return nil, err
	}
	defer v.rlock()()

	all := v.s.entries
	if v.tx != nil && len(v.tx.entries) > 0 {
		all = append(append([]models.LedgerEntry{}, v.s.entries...), v.tx.entries...)
	}

	var records []models.LedgerRecord
	for _, e := range all {
		if !match(e) {
			continue
		}
		records = append(records, models.LedgerRecord{
			LedgerEntry:   e,
			SenderName:    v.s.identities[v.s.byBankID[e.SenderBankID]].FullName(),
			RecipientName: v.s.identities[v.s.byBankID[e.RecipientBankID]].FullName(),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}
