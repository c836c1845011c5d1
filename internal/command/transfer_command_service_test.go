package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eaglebank/ledger-service/internal/memstore"
	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/cqrs"
	"github.com/eaglebank/ledger-service/shared/events"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for _, h := range []models.Identity{
		{GivenName: "Alice", FamilyName: "Martin", NationalID: "N1", BankID: ptr("BK-A")},
		{GivenName: "Jean", FamilyName: "Dupont", NationalID: "N2", BankID: ptr("BK-B")},
		{GivenName: "Luc", FamilyName: "Dupontel", NationalID: "N3", BankID: ptr("BK-C")},
		{GivenName: "Nora", FamilyName: "Unfunded", NationalID: "N4"},
		{GivenName: "Marc", FamilyName: "Solo", NationalID: "N5", BankID: ptr("BK-D")},
	} {
		_, err := s.AddIdentity(h)
		require.NoError(t, err)
	}
	require.NoError(t, s.OpenAccount("BK-A", dec("100.00")))
	require.NoError(t, s.OpenAccount("BK-B", dec("20.00")))
	require.NoError(t, s.OpenAccount("BK-C", dec("0")))
	return s
}

func balanceOf(t *testing.T, s store.Store, bankID string) decimal.Decimal {
	t.Helper()
	acc, err := s.Accounts().Get(context.Background(), bankID)
	require.NoError(t, err)
	return acc.Balance
}

func entriesOf(t *testing.T, s store.Store, bankID string) []models.LedgerRecord {
	t.Helper()
	sent, err := s.Entries().ListSent(context.Background(), bankID)
	require.NoError(t, err)
	return sent
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransferCompletedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if stream == events.LedgerEventsStream && eventType == events.TransferCompleted {
		p.events = append(p.events, data.(events.TransferCompletedEvent))
	}
	return nil
}

type recordingInvalidator struct {
	mu      sync.Mutex
	bankIDs []string
}

func (r *recordingInvalidator) InvalidateHistory(_ context.Context, bankIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bankIDs = append(r.bankIDs, bankIDs...)
}

func TestTransferSucceeds(t *testing.T) {
	s := newLedger(t)
	pub := &recordingPublisher{}
	inv := &recordingInvalidator{}
	svc := NewTransferCommandService(s, WithPublisher(pub), WithHistoryInvalidator(inv), WithLogger(quietLogger()))

	receipt, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-A",
		Recipient:    "Jean Dupont",
		Amount:       dec("30.00"),
		Description:  "rent",
	})
	require.NoError(t, err)

	assert.True(t, receipt.Success)
	assert.Equal(t, "Alice Martin", receipt.Sender)
	assert.Equal(t, "Jean Dupont", receipt.Recipient)
	assert.Equal(t, "rent", receipt.Description)
	assert.True(t, receipt.Amount.Equal(dec("30")))
	assert.True(t, receipt.NewBalance.Equal(dec("70")))
	assert.False(t, receipt.Timestamp.IsZero())

	assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("70.00")))
	assert.True(t, balanceOf(t, s, "BK-B").Equal(dec("50.00")))

	sent := entriesOf(t, s, "BK-A")
	require.Len(t, sent, 1)
	assert.Equal(t, receipt.TransactionID, sent[0].ID)
	assert.True(t, sent[0].Amount.Equal(dec("30")))

	require.Len(t, pub.events, 1)
	assert.Equal(t, receipt.TransactionID, pub.events[0].EntryID)
	assert.Equal(t, "BK-B", pub.events[0].RecipientBankID)
	assert.True(t, pub.events[0].SenderBalance.Equal(dec("70")))
	assert.ElementsMatch(t, []string{"BK-A", "BK-B"}, inv.bankIDs)
}

func TestTransferInsufficientFunds(t *testing.T) {
	s := newLedger(t)
	pub := &recordingPublisher{}
	svc := NewTransferCommandService(s, WithPublisher(pub), WithLogger(quietLogger()))

	_, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-B", Recipient: "Martin", Amount: dec("50.00"), Description: "loan",
	})
	require.True(t, apperror.Is(err, apperror.KindInsufficientFunds))

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	details := appErr.Details.(apperror.FundsDetails)
	assert.True(t, details.CurrentBalance.Equal(dec("20")))
	assert.True(t, details.RequestedAmount.Equal(dec("50")))

	assert.True(t, balanceOf(t, s, "BK-B").Equal(dec("20.00")))
	assert.Empty(t, entriesOf(t, s, "BK-B"))
	assert.Empty(t, pub.events)
}

func TestTransferFailures(t *testing.T) {
	tests := []struct {
		name string
		cmd  cqrs.TransferCommand
		kind apperror.Kind
	}{
		{
			name: "unknown sender",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-Z", Recipient: "Dupont", Amount: dec("1")},
			kind: apperror.KindUserNotFound,
		},
		{
			name: "sender without account",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-D", Recipient: "Dupont", Amount: dec("1")},
			kind: apperror.KindAccountNotFound,
		},
		{
			name: "empty sender account",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-C", Recipient: "Dupont", Amount: dec("1")},
			kind: apperror.KindInsufficientFunds,
		},
		{
			name: "zero amount",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: decimal.Zero},
			kind: apperror.KindValidation,
		},
		{
			name: "negative amount",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("-5")},
			kind: apperror.KindValidation,
		},
		{
			name: "half a cent",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("0.005")},
			kind: apperror.KindValidation,
		},
		{
			name: "tenth of a cent",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("0.001")},
			kind: apperror.KindValidation,
		},
		{
			name: "beyond column precision",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("10000000000000")},
			kind: apperror.KindValidation,
		},
		{
			name: "blank recipient",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "  ", Amount: dec("1")},
			kind: apperror.KindValidation,
		},
		{
			name: "no such recipient",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Paul Nobody", Amount: dec("1")},
			kind: apperror.KindRecipientNotFound,
		},
		{
			name: "recipient without bank id",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Nora Unfunded", Amount: dec("1")},
			kind: apperror.KindAccountNotFound,
		},
		{
			name: "recipient without account",
			cmd:  cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Solo", Amount: dec("1")},
			kind: apperror.KindAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newLedger(t)
			svc := NewTransferCommandService(s, WithLogger(quietLogger()))

			_, err := svc.Transfer(context.Background(), tt.cmd)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
			assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
			assert.Empty(t, entriesOf(t, s, "BK-A"))
		})
	}
}

func TestTransferRejectsSubCentAmounts(t *testing.T) {
	for _, amount := range []string{"0.005", "0.001", "10.005"} {
		t.Run(amount, func(t *testing.T) {
			s := newLedger(t)
			pub := &recordingPublisher{}
			svc := NewTransferCommandService(s, WithPublisher(pub), WithLogger(quietLogger()))

			_, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
				SenderBankID: "BK-A", Recipient: "Jean Dupont", Amount: dec(amount), Description: "dust",
			})
			require.True(t, apperror.Is(err, apperror.KindValidation))
			assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100.00")))
			assert.True(t, balanceOf(t, s, "BK-B").Equal(dec("20.00")))
			assert.Empty(t, entriesOf(t, s, "BK-A"))
			assert.Empty(t, pub.events)
		})
	}

	s := newLedger(t)
	receipt, err := NewTransferCommandService(s, WithLogger(quietLogger())).Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-A", Recipient: "Jean Dupont", Amount: dec("0.010"), Description: "cent",
	})
	require.NoError(t, err)
	assert.True(t, receipt.NewBalance.Equal(dec("99.99")))
}

func TestTransferRecipientPolicy(t *testing.T) {
	cmd := cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Jean Dupont", Amount: dec("5"), Description: "gift"}

	t.Run("first match in directory order", func(t *testing.T) {
		s := newLedger(t)
		receipt, err := NewTransferCommandService(s, WithLogger(quietLogger())).Transfer(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "Jean Dupont", receipt.Recipient)
		assert.True(t, balanceOf(t, s, "BK-B").Equal(dec("25")))
		assert.True(t, balanceOf(t, s, "BK-C").Equal(dec("0")))
	})

	t.Run("strict rejects ambiguity", func(t *testing.T) {
		s := newLedger(t)
		svc := NewTransferCommandService(s, WithRecipientPolicy(RecipientStrict), WithLogger(quietLogger()))

		_, err := svc.Transfer(context.Background(), cmd)
		require.True(t, apperror.Is(err, apperror.KindAmbiguousRecipient))
		var appErr *apperror.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, []string{"Jean Dupont", "Luc Dupontel"}, appErr.Details.(apperror.CandidatesDetails).Candidates)
		assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
	})

	t.Run("strict accepts a unique match", func(t *testing.T) {
		s := newLedger(t)
		svc := NewTransferCommandService(s, WithRecipientPolicy(RecipientStrict), WithLogger(quietLogger()))

		receipt, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
			SenderBankID: "BK-A", Recipient: "luc dupontel", Amount: dec("5"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Luc Dupontel", receipt.Recipient)
	})
}

func TestTransferToSelfKeepsBalance(t *testing.T) {
	s := newLedger(t)
	receipt, err := NewTransferCommandService(s, WithLogger(quietLogger())).Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-A", Recipient: "Alice Martin", Amount: dec("40"), Description: "self",
	})
	require.NoError(t, err)
	assert.True(t, receipt.NewBalance.Equal(dec("100")))
	assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
	assert.Len(t, entriesOf(t, s, "BK-A"), 1)
}

func TestConcurrentTransfersCannotOverdraw(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := newLedger(t)
		svc := NewTransferCommandService(s, WithLogger(quietLogger()))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for n, recipient := range []string{"Jean Dupont", "Luc Dupontel"} {
			wg.Add(1)
			go func(n int, recipient string) {
				defer wg.Done()
				_, errs[n] = svc.Transfer(context.Background(), cqrs.TransferCommand{
					SenderBankID: "BK-A", Recipient: recipient, Amount: dec("60"),
				})
			}(n, recipient)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperror.Is(err, apperror.KindInsufficientFunds))
		}
		require.Equal(t, 1, succeeded)
		assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("40")))

		total := balanceOf(t, s, "BK-A").Add(balanceOf(t, s, "BK-B")).Add(balanceOf(t, s, "BK-C"))
		assert.True(t, total.Equal(dec("120")), "money is conserved, got %s", total)
	}
}

// failingAppendStore fails every ledger append after the balance legs ran.
type failingAppendStore struct{ store.Store }

func (f failingAppendStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, failingAppendTx{tx})
	})
}

type failingAppendTx struct{ store.Tx }

func (t failingAppendTx) Entries() store.EntryLog { return failingLog{t.Tx.Entries()} }

type failingLog struct{ store.EntryLog }

func (failingLog) Append(context.Context, *models.LedgerEntry) error {
	return apperror.StoreFault(errors.New("disk full"), "failed to append ledger entry", false)
}

func TestTransferRollsBackWhenAppendFails(t *testing.T) {
	s := newLedger(t)
	pub := &recordingPublisher{}
	svc := NewTransferCommandService(failingAppendStore{s}, WithPublisher(pub), WithLogger(quietLogger()))

	_, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("30"),
	})
	require.True(t, apperror.Is(err, apperror.KindStoreFault))

	assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
	assert.True(t, balanceOf(t, s, "BK-B").Equal(dec("20")))
	assert.Empty(t, entriesOf(t, s, "BK-A"))
	assert.Empty(t, pub.events)
}

// flakyStore fails the first n units of work with a retryable fault.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return apperror.StoreFault(errors.New("deadlock detected"), "failed to commit transaction", true)
	}
	return f.Store.WithinTx(ctx, fn)
}

func TestTransferRetriesRetryableFaults(t *testing.T) {
	cmd := cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("10")}

	t.Run("succeeds after transient faults", func(t *testing.T) {
		s := newLedger(t)
		flaky := &flakyStore{Store: s, failures: 2}
		svc := NewTransferCommandService(flaky, WithRetry(3, time.Millisecond), WithLogger(quietLogger()))

		_, err := svc.Transfer(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, 3, flaky.calls)
		assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("90")))
		assert.Len(t, entriesOf(t, s, "BK-A"), 1)
	})

	t.Run("gives up once retries are exhausted", func(t *testing.T) {
		s := newLedger(t)
		flaky := &flakyStore{Store: s, failures: 10}
		svc := NewTransferCommandService(flaky, WithRetry(2, time.Millisecond), WithLogger(quietLogger()))

		_, err := svc.Transfer(context.Background(), cmd)
		assert.True(t, apperror.IsRetryable(err))
		assert.Equal(t, 3, flaky.calls)
		assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
	})

	t.Run("business failures are not retried", func(t *testing.T) {
		s := newLedger(t)
		flaky := &flakyStore{Store: s}
		svc := NewTransferCommandService(flaky, WithRetry(3, time.Millisecond), WithLogger(quietLogger()))

		_, err := svc.Transfer(context.Background(), cqrs.TransferCommand{SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("500")})
		assert.True(t, apperror.Is(err, apperror.KindInsufficientFunds))
		assert.Equal(t, 1, flaky.calls)
	})
}

func TestTransferCancelledContext(t *testing.T) {
	s := newLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTransferCommandService(s, WithLogger(quietLogger())).Transfer(ctx, cqrs.TransferCommand{
		SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("10"),
	})
	assert.True(t, apperror.Is(err, apperror.KindStoreFault))
	assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("100")))
}

func TestPublishFailureDoesNotUndoTransfer(t *testing.T) {
	s := newLedger(t)
	logger, hook := test.NewNullLogger()
	pub := &recordingPublisher{err: errors.New("redis unavailable")}
	svc := NewTransferCommandService(s, WithPublisher(pub), WithLogger(logger))

	receipt, err := svc.Transfer(context.Background(), cqrs.TransferCommand{
		SenderBankID: "BK-A", Recipient: "Dupont", Amount: dec("10"),
	})
	require.NoError(t, err)
	assert.True(t, receipt.NewBalance.Equal(dec("90")))
	assert.True(t, balanceOf(t, s, "BK-A").Equal(dec("90")))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRecipientPolicyValid(t *testing.T) {
	assert.True(t, RecipientFirstMatch.Valid())
	assert.True(t, RecipientStrict.Valid())
	assert.False(t, RecipientPolicy("fuzzy").Valid())
}
