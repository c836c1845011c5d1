package repository

import (
	"context"
	"time"

	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/models"
	sharedredis "github.com/eaglebank/ledger-service/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const identityViewKeyPrefix = "identity:view:"

// identityCacheEntry is the Redis representation of an identity. Unlike
// models.Identity it serialises every field, so a cache hit is a full record.
type identityCacheEntry struct {
	ID         int64     `json:"id"`
	GivenName  string    `json:"givenName"`
	FamilyName string    `json:"familyName"`
	BankID     *string   `json:"bankId"`
	NationalID string    `json:"nationalId"`
	Locale     string    `json:"locale"`
	Illness    string    `json:"illness"`
	CreatedAt  time.Time `json:"createdTimestamp"`
	UpdatedAt  time.Time `json:"updatedTimestamp"`
}

// CachedIdentityDirectory serves bank id lookups from Redis, falling back to
// the wrapped directory and warming the cache on every cold read. Identities
// are immutable once registered, so entries are never invalidated. Fragment
// searches are not cached.
type CachedIdentityDirectory struct {
	next  store.IdentityDirectory
	cache *sharedredis.ViewCache[identityCacheEntry]
}

var _ store.IdentityDirectory = (*CachedIdentityDirectory)(nil)

func NewCachedIdentityDirectory(next store.IdentityDirectory, redisClient goredis.UniversalClient, ttl time.Duration) *CachedIdentityDirectory {
	return &CachedIdentityDirectory{
		next:  next,
		cache: sharedredis.NewViewCache[identityCacheEntry](redisClient, identityViewKeyPrefix, ttl),
	}
}

func (d *CachedIdentityDirectory) ResolveByBankID(ctx context.Context, bankID string) (*models.Identity, error) {
	if entry, ok := d.cache.Get(ctx, bankID); ok {
		return cacheEntryToIdentity(entry), nil
	}

	identity, err := d.next.ResolveByBankID(ctx, bankID)
	if err != nil {
		return nil, err
	}
	d.cache.Set(ctx, bankID, identityToCacheEntry(identity))
	return identity, nil
}

func (d *CachedIdentityDirectory) FindByFamilyNameFragment(ctx context.Context, fragment string) ([]models.Identity, error) {
	return d.next.FindByFamilyNameFragment(ctx, fragment)
}

func identityToCacheEntry(i *models.Identity) *identityCacheEntry {
	return &identityCacheEntry{
		ID:         i.ID,
		GivenName:  i.GivenName,
		FamilyName: i.FamilyName,
		BankID:     i.BankID,
		NationalID: i.NationalID,
		Locale:     i.Locale,
		Illness:    i.Illness,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func cacheEntryToIdentity(e *identityCacheEntry) *models.Identity {
	return &models.Identity{
		ID:         e.ID,
		GivenName:  e.GivenName,
		FamilyName: e.FamilyName,
		BankID:     e.BankID,
		NationalID: e.NationalID,
		Locale:     e.Locale,
		Illness:    e.Illness,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}
