package query

import (
	"context"
	"slices"
	"time"

	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/cqrs"
	"github.com/eaglebank/ledger-service/shared/events"
	"github.com/eaglebank/ledger-service/shared/models"
	sharedredis "github.com/eaglebank/ledger-service/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const historyViewKeyPrefix = "history:view:"

// HistoryQueryService assembles the merged sent/received view of an account.
// The full projection is cached per bank id; pages are cut from it.
type HistoryQueryService struct {
	identities store.IdentityDirectory
	entries    store.EntryLog
	cache      *sharedredis.ViewCache[[]models.HistoryItem]
}

// NewHistoryQueryService builds the assembler. redisClient may be nil, in
// which case every read goes to the store.
func NewHistoryQueryService(identities store.IdentityDirectory, entries store.EntryLog, redisClient goredis.UniversalClient, ttl time.Duration) *HistoryQueryService {
	return &HistoryQueryService{
		identities: identities,
		entries:    entries,
		cache:      sharedredis.NewViewCache[[]models.HistoryItem](redisClient, historyViewKeyPrefix, ttl),
	}
}

func (s *HistoryQueryService) GetHistory(ctx context.Context, q cqrs.GetHistoryQuery) (*models.HistoryPage, error) {
	if q.Page < 1 || q.PageSize < 1 {
		return nil, apperror.Validation("page and page_size must be positive, got %d and %d", q.Page, q.PageSize)
	}
	if _, err := s.identities.ResolveByBankID(ctx, q.BankID); err != nil {
		return nil, err
	}

	items, err := s.projection(ctx, q.BankID)
	if err != nil {
		return nil, err
	}

	return &models.HistoryPage{
		BankID:       q.BankID,
		Transactions: paginate(items, q.Page, q.PageSize),
		Page:         q.Page,
		PageSize:     q.PageSize,
		Total:        len(items),
	}, nil
}

func (s *HistoryQueryService) projection(ctx context.Context, bankID string) ([]models.HistoryItem, error) {
	if cached, ok := s.cache.Get(ctx, bankID); ok {
		return *cached, nil
	}
	// Read before listing so an invalidation that lands while the entries are
	// loaded keeps this projection out of the cache.
	version, cacheable := s.cache.Version(ctx, bankID)

	sent, err := s.entries.ListSent(ctx, bankID)
	if err != nil {
		return nil, err
	}
	received, err := s.entries.ListReceived(ctx, bankID)
	if err != nil {
		return nil, err
	}

	items := make([]models.HistoryItem, 0, len(sent)+len(received))
	for _, rec := range sent {
		items = append(items, project(rec, models.EntryTypeDebit))
	}
	for _, rec := range received {
		items = append(items, project(rec, models.EntryTypeCredit))
	}
	// Stable: on equal timestamps sent entries stay ahead of received ones.
	slices.SortStableFunc(items, func(a, b models.HistoryItem) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	if cacheable {
		s.cache.SetIfVersion(ctx, bankID, version, &items)
	}
	return items, nil
}

func project(rec models.LedgerRecord, entryType string) models.HistoryItem {
	item := models.HistoryItem{
		ID:        rec.ID,
		Type:      entryType,
		Amount:    rec.Amount,
		Date:      rec.CreatedAt.Format(models.HistoryDateLayout),
		Timestamp: rec.CreatedAt,
	}
	if entryType == models.EntryTypeDebit {
		item.Amount = rec.Amount.Neg()
		item.Description = "To " + rec.RecipientName + " – " + rec.Action
	} else {
		item.Description = "From " + rec.SenderName + " – " + rec.Action
	}
	return item
}

// paginate cuts a 1-based page out of items. It never multiplies past
// len(items), so huge page numbers cannot overflow.
func paginate(items []models.HistoryItem, page, pageSize int) []models.HistoryItem {
	pages := len(items) / pageSize
	if len(items)%pageSize != 0 {
		pages++
	}
	if page > pages {
		return []models.HistoryItem{}
	}
	start := (page - 1) * pageSize
	end := start + min(pageSize, len(items)-start)
	return items[start:end]
}

// InvalidateHistory drops the cached projections of the given accounts.
func (s *HistoryQueryService) InvalidateHistory(ctx context.Context, bankIDs ...string) {
	s.cache.Invalidate(ctx, bankIDs...)
}

// HandleLedgerEvent is the stream handler that keeps the history cache of
// every replica in step with committed transfers.
func (s *HistoryQueryService) HandleLedgerEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.TransferCompleted {
		return nil
	}
	var completed events.TransferCompletedEvent
	if err := events.DecodeData(event, &completed); err != nil {
		return err
	}
	s.InvalidateHistory(ctx, completed.SenderBankID, completed.RecipientBankID)
	logrus.WithFields(logrus.Fields{
		"entry_id":  completed.EntryID,
		"sender":    completed.SenderBankID,
		"recipient": completed.RecipientBankID,
	}).Debug("history cache invalidated")
	return nil
}
