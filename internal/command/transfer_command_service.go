package command

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/cqrs"
	"github.com/eaglebank/ledger-service/shared/events"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/eaglebank/ledger-service/shared/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RecipientPolicy decides what a transfer does when the recipient fragment
// matches more than one identity.
type RecipientPolicy string

const (
	RecipientFirstMatch RecipientPolicy = "first-match"
	RecipientStrict     RecipientPolicy = "strict"
)

func (p RecipientPolicy) Valid() bool {
	return p == RecipientFirstMatch || p == RecipientStrict
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// HistoryInvalidator drops cached history projections.
type HistoryInvalidator interface {
	InvalidateHistory(ctx context.Context, bankIDs ...string)
}

// TransferCommandService moves money between two accounts. Each transfer is
// one unit of work against the store: both balance legs and the ledger entry
// commit together or not at all.
type TransferCommandService struct {
	store      store.Store
	policy     RecipientPolicy
	maxRetries uint64
	retryWait  time.Duration
	publisher  EventPublisher
	history    HistoryInvalidator
	log        logrus.FieldLogger
}

type Option func(*TransferCommandService)

func WithRecipientPolicy(p RecipientPolicy) Option {
	return func(s *TransferCommandService) { s.policy = p }
}

// WithRetry bounds how many times a transfer that failed on a retryable
// store fault is run again. initialWait seeds the exponential backoff.
func WithRetry(maxRetries uint64, initialWait time.Duration) Option {
	return func(s *TransferCommandService) {
		s.maxRetries = maxRetries
		if initialWait > 0 {
			s.retryWait = initialWait
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *TransferCommandService) { s.publisher = p }
}

func WithHistoryInvalidator(h HistoryInvalidator) Option {
	return func(s *TransferCommandService) { s.history = h }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *TransferCommandService) { s.log = l }
}

func NewTransferCommandService(st store.Store, opts ...Option) *TransferCommandService {
	s := &TransferCommandService{
		store:      st,
		policy:     RecipientFirstMatch,
		maxRetries: 3,
		retryWait:  50 * time.Millisecond,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type transferResult struct {
	entry      models.LedgerEntry
	sender     string
	recipient  string
	newBalance decimal.Decimal
}

// Transfer runs cmd to completion and returns the committed receipt. Only
// retryable store faults are retried; every business failure is returned on
// the first attempt.
func (s *TransferCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.TransferReceipt, error) {
	logger := s.log.WithFields(logrus.Fields{
		"sender":    cmd.SenderBankID,
		"recipient": cmd.Recipient,
		"amount":    cmd.Amount.String(),
	})

	var (
		result  *transferResult
		attempt int
	)
	op := func() error {
		attempt++
		res, err := s.transferOnce(ctx, cmd)
		if err != nil {
			if apperror.IsRetryable(err) {
				logger.WithField("attempt", attempt).WithError(err).Warn("transfer attempt failed, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)); err != nil {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			err = apperror.StoreFault(err, "transfer aborted", false)
		}
		logger.WithField("attempt", attempt).WithField("kind", apperror.KindOf(err)).Info("transfer rejected")
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"entry_id": result.entry.ID,
		"attempt":  attempt,
	}).Info("transfer committed")

	s.afterCommit(ctx, result)

	return &models.TransferReceipt{
		Success:       true,
		TransactionID: result.entry.ID,
		Sender:        result.sender,
		Recipient:     result.recipient,
		Amount:        result.entry.Amount,
		Description:   result.entry.Action,
		NewBalance:    result.newBalance,
		Timestamp:     result.entry.CreatedAt,
	}, nil
}

func (s *TransferCommandService) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	b.MaxInterval = 20 * s.retryWait
	b.MaxElapsedTime = 0
	return b
}

func (s *TransferCommandService) transferOnce(ctx context.Context, cmd cqrs.TransferCommand) (*transferResult, error) {
	var res *transferResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sender, err := tx.Identities().ResolveByBankID(ctx, cmd.SenderBankID)
		if err != nil {
			return err
		}
		senderAccount, err := tx.Accounts().Get(ctx, cmd.SenderBankID)
		if err != nil {
			return err
		}

		if !cmd.Amount.IsPositive() {
			return apperror.Validation("amount must be greater than zero, got %s", cmd.Amount)
		}
		if !models.ValidAmount(cmd.Amount) {
			return apperror.Validation("amount %s must have at most %d decimal places and not exceed %s",
				cmd.Amount, models.AmountScale, models.MaxAmount)
		}
		if senderAccount.Balance.LessThan(cmd.Amount) {
			return apperror.InsufficientFunds(senderAccount.Balance, cmd.Amount)
		}

		recipient, err := s.resolveRecipient(ctx, tx.Identities(), cmd.Recipient)
		if err != nil {
			return err
		}
		if recipient.BankID == nil {
			return apperror.AccountNotFound("Recipient '" + recipient.FullName() + "' has no bank account.")
		}
		recipientBankID := *recipient.BankID
		if _, err := tx.Accounts().Get(ctx, recipientBankID); err != nil {
			return err
		}

		newBalance, err := applyLegs(ctx, tx.Accounts(), cmd.SenderBankID, recipientBankID, cmd.Amount)
		if err != nil {
			return err
		}

		entry := models.LedgerEntry{
			SenderBankID:    cmd.SenderBankID,
			RecipientBankID: recipientBankID,
			Action:          cmd.Description,
			Amount:          cmd.Amount,
		}
		if err := tx.Entries().Append(ctx, &entry); err != nil {
			return err
		}

		res = &transferResult{
			entry:      entry,
			sender:     sender.FullName(),
			recipient:  recipient.FullName(),
			newBalance: newBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolveRecipient looks the recipient up by the last token of the supplied
// name, matched against family names.
func (s *TransferCommandService) resolveRecipient(ctx context.Context, dir store.IdentityDirectory, name string) (*models.Identity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperror.Validation("recipient is required")
	}
	matches, err := dir.FindByFamilyNameFragment(ctx, utils.RecipientSearchFragment(name))
	if err != nil {
		return nil, err
	}
	switch {
	case len(matches) == 0:
		return nil, apperror.RecipientNotFound(name)
	case len(matches) > 1 && s.policy == RecipientStrict:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.FullName())
		}
		return nil, apperror.AmbiguousRecipient(name, candidates)
	}
	return &matches[0], nil
}

type leg struct {
	bankID string
	delta  decimal.Decimal
}

// applyLegs debits the sender and credits the recipient in ascending bank id
// order, so two opposite transfers lock rows in the same order. It returns
// the sender's balance after both legs.
func applyLegs(ctx context.Context, accounts store.AccountStore, senderID, recipientID string, amount decimal.Decimal) (decimal.Decimal, error) {
	legs := []leg{
		{bankID: senderID, delta: amount.Neg()},
		{bankID: recipientID, delta: amount},
	}
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].bankID < legs[j].bankID })

	var senderBalance decimal.Decimal
	for _, l := range legs {
		balance, err := accounts.Adjust(ctx, l.bankID, l.delta)
		if err != nil {
			return decimal.Zero, err
		}
		if l.bankID == senderID {
			senderBalance = balance
		}
	}
	return senderBalance, nil
}

// afterCommit publishes the completion event and drops the cached history of
// both parties. Neither step can fail the transfer.
func (s *TransferCommandService) afterCommit(ctx context.Context, res *transferResult) {
	if s.history != nil {
		s.history.InvalidateHistory(ctx, res.entry.SenderBankID, res.entry.RecipientBankID)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.LedgerEventsStream, events.TransferCompleted, events.TransferCompletedEvent{
		EntryID:         res.entry.ID,
		SenderBankID:    res.entry.SenderBankID,
		RecipientBankID: res.entry.RecipientBankID,
		Amount:          res.entry.Amount,
		SenderBalance:   res.newBalance,
		CreatedAt:       res.entry.CreatedAt,
	}); err != nil {
		s.log.WithError(err).WithField("entry_id", res.entry.ID).Error("failed to publish transfer.completed event")
	}
}
