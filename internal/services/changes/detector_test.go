package changes

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// memoryKV is an in-memory KeyValueStorage
type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[strings.ToLower(key)]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return v, nil
}

func (m *memoryKV) Set(ctx context.Context, key, value, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[strings.ToLower(key)] = value
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, strings.ToLower(key))
	return nil
}

func (m *memoryKV) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	return nil, nil
}

func runWith(quotas ...float64) *models.RunReport {
	report := &models.RunReport{}
	for i, q := range quotas {
		report.Accounts = append(report.Accounts, models.AccountReport{
			Key: (&models.Account{Index: i}).Key(),
			Outcomes: []models.AccountOutcome{{
				Method:  models.MethodCookies,
				Success: true,
				Balance: &models.Balance{Quota: q, UsedQuota: 1},
			}},
		})
	}
	return report
}

func TestBalances_MethodQualifiedKeys(t *testing.T) {
	report := &models.RunReport{Accounts: []models.AccountReport{
		{Key: "account_1", Outcomes: []models.AccountOutcome{
			{Method: models.MethodCookies, Success: true, Balance: &models.Balance{Quota: 2, UsedQuota: 1}},
			{Method: models.MethodGitHub, Success: true, Balance: &models.Balance{Quota: 2.5, UsedQuota: 0}},
		}},
		{Key: "account_2", Outcomes: []models.AccountOutcome{
			{Method: models.MethodLinuxDo, Success: true, Balance: &models.Balance{Quota: 10.25, UsedQuota: 3}},
			{Method: models.MethodGitHub, Success: false},
		}},
	}}

	assert.Equal(t, map[string]string{
		"account_1.cookies": "2:1",
		"account_1.github":  "2.5:0",
		"account_2":         "10.25:3",
	}, Balances(report))
}

func TestHash_StableAndSensitive(t *testing.T) {
	a := Hash(Balances(runWith(2, 3)))
	b := Hash(Balances(runWith(2, 3)))
	c := Hash(Balances(runWith(2, 4)))

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Empty(t, Hash(nil))
}

func TestDetector_NotificationDedupe(t *testing.T) {
	ctx := context.Background()
	detector := NewDetector(newMemoryKV(), arbor.NewLogger(), "")
	assert.Equal(t, "balance_hash:newapi", detector.Key())

	first, err := detector.Evaluate(ctx, runWith(2, 3))
	require.NoError(t, err)
	assert.True(t, first.FirstRun)
	assert.True(t, first.Notify)
	require.NoError(t, detector.Save(ctx, first.Hash))

	second, err := detector.Evaluate(ctx, runWith(2, 3))
	require.NoError(t, err)
	assert.False(t, second.Notify)
	assert.Equal(t, first.Hash, second.Hash)
	require.NoError(t, detector.Save(ctx, second.Hash))

	third, err := detector.Evaluate(ctx, runWith(2, 3.5))
	require.NoError(t, err)
	assert.True(t, third.Changed)
	assert.True(t, third.Notify)
}

func TestDetector_FailuresAlwaysNotify(t *testing.T) {
	ctx := context.Background()
	detector := NewDetector(newMemoryKV(), arbor.NewLogger(), "custom")

	report := runWith(1)
	decision, err := detector.Evaluate(ctx, report)
	require.NoError(t, err)
	require.NoError(t, detector.Save(ctx, decision.Hash))

	report.HasFailures = true
	decision, err = detector.Evaluate(ctx, report)
	require.NoError(t, err)
	assert.False(t, decision.Changed)
	assert.True(t, decision.Notify)

	previous, err := detector.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, decision.Hash, previous)
}

func TestDetector_NoBalancesNoHash(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	detector := NewDetector(kv, arbor.NewLogger(), "")

	decision, err := detector.Evaluate(ctx, &models.RunReport{})
	require.NoError(t, err)
	assert.Empty(t, decision.Hash)
	assert.False(t, decision.Notify)
	require.NoError(t, detector.Save(ctx, decision.Hash))
	assert.Empty(t, kv.data)
}
