// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 10:20:00 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not present in the store
var ErrKeyNotFound = errors.New("key not found")

// KeyValuePair is a stored value with its metadata
type KeyValuePair struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KeyValueStorage persists run state between runs: the balance hash per
// provider category and the browser-profile cookie caches.
type KeyValueStorage interface {
	// Get returns ErrKeyNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a value, preserving CreatedAt
	Set(ctx context.Context, key string, value string, description string) error

	Delete(ctx context.Context, key string) error

	// ListByPrefix returns pairs whose keys start with prefix, newest first
	ListByPrefix(ctx context.Context, prefix string) ([]KeyValuePair, error)
}
