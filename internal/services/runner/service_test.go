package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
	"github.com/ternarybob/checkin/internal/providers"
	"github.com/ternarybob/checkin/internal/services/auth"
	"github.com/ternarybob/checkin/internal/services/balance"
	"github.com/ternarybob/checkin/internal/services/changes"
	"github.com/ternarybob/checkin/internal/services/checkin"
	"github.com/ternarybob/checkin/internal/services/redemption"
	"github.com/ternarybob/checkin/internal/services/report"
)

// MockNotifier is a mock implementation of NotificationGateway
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Push(ctx context.Context, title, body string) error {
	args := m.Called(ctx, title, body)
	return args.Error(0)
}

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", interfaces.ErrKeyNotFound
}

func (m *memoryKV) Set(ctx context.Context, key, value, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error { return nil }

func (m *memoryKV) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	return nil, nil
}

// fakeProvider serves a new-api style provider
type fakeProvider struct {
	quota    atomic.Int64
	checkIns atomic.Int32
	topups   atomic.Int32
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/sign_in":
			f.checkIns.Add(1)
			if c, err := r.Cookie("a"); assert.NoError(t, err) {
				assert.Equal(t, "1", c.Value)
			}
			assert.Equal(t, "42", r.Header.Get("new-api-user"))
			w.Write([]byte(`{"ret":1}`))
		case "/api/user/topup":
			f.topups.Add(1)
			w.Write([]byte(`{"success":false,"message":"该兑换码已被使用"}`))
		case "/api/user/self":
			w.Write([]byte(`{"success":true,"data":{"quota":` + strconv.FormatInt(f.quota.Load(), 10) + `,"used_quota":500000}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newRunner(t *testing.T, origin string, notifier interfaces.NotificationGateway, dryRun bool) (*Service, *memoryKV) {
	t.Helper()
	logger := arbor.NewLogger()
	httpClient := httpclient.NewClient()

	registry := providers.NewRegistry(httpClient, logger)
	registry.ApplyOverrides(map[string]common.ProviderOverride{
		"test": {Origin: origin, SignInPath: "/api/user/sign_in"},
	})

	kv := &memoryKV{data: map[string]string{}}
	config := common.NewDefaultConfig()
	config.Run.DryRun = dryRun

	deps := Dependencies{
		Registry:   registry,
		Selector:   auth.NewSelector(httpClient, nil, nil, logger),
		CheckIn:    checkin.NewService(httpClient, logger),
		Redemption: redemption.NewService(httpClient, logger, 0),
		Balance:    balance.NewService(httpClient, logger),
		Aggregator: report.NewAggregator(logger),
		Detector:   changes.NewDetector(kv, logger, ""),
		Notifier:   notifier,
	}
	return NewService(config, deps, logger), kv
}

func cookieAccount(extra models.Extra) []common.LoadedAccount {
	return []common.LoadedAccount{{Account: models.Account{
		Index:    0,
		Provider: "test",
		Cookies:  models.CookieSpec{Raw: "a=1; b=2"},
		APIUser:  "42",
		Extra:    extra,
	}}}
}

func TestRun_CookieScenarioAndNotificationDedupe(t *testing.T) {
	fake := &fakeProvider{}
	fake.quota.Store(1000000)
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	notifier := new(MockNotifier)
	notifier.On("Push", mock.Anything, "Check-in Alert", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "Current balance: $2.00, Used: $1.00") && strings.Contains(body, "Success: 1/1")
	})).Return(nil).Once()

	svc, kv := newRunner(t, server.URL, notifier, false)

	first := svc.Run(context.Background(), cookieAccount(nil))
	require.Len(t, first.Accounts, 1)
	require.Len(t, first.Accounts[0].Outcomes, 1)
	outcome := first.Accounts[0].Outcomes[0]
	require.True(t, outcome.Success, outcome.ErrorText())
	assert.Equal(t, 2.0, outcome.Balance.Quota)
	assert.Equal(t, 1.0, outcome.Balance.UsedQuota)
	assert.Equal(t, 0, first.ExitCode())
	assert.Contains(t, kv.data, "balance_hash:newapi")

	second := svc.Run(context.Background(), cookieAccount(nil))
	assert.Equal(t, 0, second.ExitCode())
	notifier.AssertNumberOfCalls(t, "Push", 1)

	fake.quota.Store(1500000)
	notifier.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	svc.Run(context.Background(), cookieAccount(nil))
	notifier.AssertNumberOfCalls(t, "Push", 2)
	assert.Equal(t, int32(3), fake.checkIns.Load())
}

func TestRun_ExtraCodesRedeemedAndAlreadyUsedContinues(t *testing.T) {
	fake := &fakeProvider{}
	fake.quota.Store(500000)
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	notifier := new(MockNotifier)
	notifier.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc, _ := newRunner(t, server.URL, notifier, false)
	result := svc.Run(context.Background(), cookieAccount(models.Extra{"cdks": []any{"C1", "C2"}}))

	outcome := result.Accounts[0].Outcomes[0]
	require.True(t, outcome.Success, outcome.ErrorText())
	require.NotNil(t, outcome.Redemption)
	assert.Equal(t, 2, outcome.Redemption.Attempted)
	assert.Equal(t, 2, outcome.Redemption.AlreadyUsed)
	assert.Equal(t, int32(2), fake.topups.Load())
}

func TestRun_InvalidAccountsAndUnknownProvider(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("Push", mock.Anything, mock.Anything, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "All accounts check-in failed")
	})).Return(nil).Once()

	svc, kv := newRunner(t, "https://unused.test", notifier, false)
	accounts := []common.LoadedAccount{
		{Account: models.Account{Index: 0, Provider: "test"}, Err: models.NewConfigError("at least one credential set is required")},
		{Account: models.Account{Index: 1, Provider: "missing", Cookies: models.CookieSpec{Raw: "a=1"}, APIUser: "1"}},
	}

	result := svc.Run(context.Background(), accounts)
	assert.Equal(t, 1, result.ExitCode())
	assert.True(t, result.HasFailures)
	assert.Equal(t, "at least one credential set is required", result.Accounts[0].Error)
	assert.Equal(t, "Provider 'missing' configuration not found", result.Accounts[1].Error)
	assert.Empty(t, kv.data)
	notifier.AssertExpectations(t)
}

func TestRun_DryRunSkipsNotificationAndHash(t *testing.T) {
	fake := &fakeProvider{}
	fake.quota.Store(1000000)
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	notifier := new(MockNotifier)
	svc, kv := newRunner(t, server.URL, notifier, true)

	result := svc.Run(context.Background(), cookieAccount(nil))
	assert.Equal(t, 0, result.ExitCode())
	assert.Empty(t, kv.data)
	notifier.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
}
