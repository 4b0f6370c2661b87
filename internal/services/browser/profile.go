package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

const profileKeyPrefix = "browser_profile:"

// ProfileCache persists the identity-provider cookies of a login so the next
// run can skip the credential form. Entries are keyed by the OAuth cache key.
type ProfileCache struct {
	kv interfaces.KeyValueStorage
}

// NewProfileCache creates a cache; a nil store disables caching
func NewProfileCache(kv interfaces.KeyValueStorage) *ProfileCache {
	return &ProfileCache{kv: kv}
}

type profileEntry struct {
	Cookies []models.Cookie `json:"cookies"`
}

func profileKey(cacheKey string) string {
	return profileKeyPrefix + cacheKey
}

// Load returns the cached cookies, nil when no entry exists
func (p *ProfileCache) Load(ctx context.Context, cacheKey string) ([]models.Cookie, error) {
	if p == nil || p.kv == nil || cacheKey == "" {
		return nil, nil
	}
	raw, err := p.kv.Get(ctx, profileKey(cacheKey))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry profileEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("invalid profile cache entry %s: %w", cacheKey, err)
	}
	return entry.Cookies, nil
}

// Save overwrites the cached cookies
func (p *ProfileCache) Save(ctx context.Context, cacheKey string, cookies []models.Cookie) error {
	if p == nil || p.kv == nil || cacheKey == "" {
		return nil
	}
	data, err := json.Marshal(profileEntry{Cookies: cookies})
	if err != nil {
		return err
	}
	return p.kv.Set(ctx, profileKey(cacheKey), string(data), "Browser profile cookies")
}

// Has reports whether an entry exists
func (p *ProfileCache) Has(ctx context.Context, cacheKey string) bool {
	cookies, err := p.Load(ctx, cacheKey)
	return err == nil && cookies != nil
}
