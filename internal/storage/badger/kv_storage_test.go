package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
)

func newTestKV(t *testing.T) interfaces.KeyValueStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewKVStorage(db, logger)
}

func TestKVStorage_SetGetCaseInsensitive(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "Balance_Hash:NewAPI", "abc123", "balance hash"))

	value, err := kv.Get(ctx, "balance_hash:newapi")
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)

	require.NoError(t, kv.Set(ctx, "balance_hash:newapi", "def456", "balance hash"))
	value, err = kv.Get(ctx, "BALANCE_HASH:NEWAPI")
	require.NoError(t, err)
	assert.Equal(t, "def456", value)
}

func TestKVStorage_GetMissing(t *testing.T) {
	kv := newTestKV(t)

	_, err := kv.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	err = kv.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestKVStorage_ListByPrefix(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "profile:github_aaaa1111", "{}", ""))
	require.NoError(t, kv.Set(ctx, "profile:linuxdo_bbbb2222", "{}", ""))
	require.NoError(t, kv.Set(ctx, "balance_hash:newapi", "x", ""))

	pairs, err := kv.ListByPrefix(ctx, "profile:")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	for _, p := range pairs {
		assert.Contains(t, p.Key, "profile:")
	}

	require.NoError(t, kv.Delete(ctx, "profile:github_aaaa1111"))
	pairs, err = kv.ListByPrefix(ctx, "profile:")
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}
