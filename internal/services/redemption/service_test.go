package redemption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
	"github.com/ternarybob/checkin/internal/providers"
)

// MockHTTPClient is a mock implementation of HTTPClient
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*models.HTTPResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

// scriptedSource yields its tokens then ends, optionally with an error, and counts pulls
type scriptedSource struct {
	name   string
	tokens []models.CdkToken
	err    error
	pulls  int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	s.pulls++
	if len(s.tokens) == 0 {
		return "", false, s.err
	}
	token := s.tokens[0]
	s.tokens = s.tokens[1:]
	return token, true, nil
}

func withKey(key string) interface{} {
	return mock.MatchedBy(func(req *models.HTTPRequest) bool {
		body, ok := req.JSONBody.(map[string]string)
		return ok && body["key"] == key
	})
}

func reply(body string) *models.HTTPResponse {
	return &models.HTTPResponse{Status: 200, Body: []byte(body)}
}

func testProvider() *models.Provider {
	return models.Provider{ID: "x666", Origin: "https://x666.test"}.WithDefaults()
}

func testSession() *models.Session {
	return models.NewSession(map[string]string{"session": "s"}, nil, "42")
}

func TestRun_AlreadyUsedContinues(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, withKey("A")).Return(reply(`{"success":false,"message":"该兑换码已被使用"}`), nil).Once()
	httpClient.On("Do", mock.Anything, withKey("B")).Return(reply(`{"success":true,"message":"ok"}`), nil).Once()

	source := &scriptedSource{name: "static", tokens: []models.CdkToken{"A", "B"}}
	svc := NewService(httpClient, arbor.NewLogger(), 0)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.AlreadyUsed)
	assert.True(t, stats.Success())
	httpClient.AssertExpectations(t)

	req := httpClient.Calls[0].Arguments.Get(1).(*models.HTTPRequest)
	assert.Equal(t, "https://x666.test/api/user/topup", req.URL)
	assert.Equal(t, "https://x666.test/console/topup", req.Headers["Referer"])
	assert.Equal(t, "https://x666.test", req.Headers["Origin"])
	assert.Equal(t, "42", req.Headers["new-api-user"])
}

func TestRun_FailureStopsSourceOnly(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, withKey("BAD")).Return(reply(`{"success":false,"message":"invalid key"}`), nil).Once()
	httpClient.On("Do", mock.Anything, withKey("OTHER")).Return(reply(`{"success":true}`), nil).Once()

	failing := &scriptedSource{name: "wheel", tokens: []models.CdkToken{"BAD", "NEVER"}}
	other := &scriptedSource{name: "static", tokens: []models.CdkToken{"OTHER"}}

	svc := NewService(httpClient, arbor.NewLogger(), 0)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{failing, other})

	assert.Equal(t, 1, failing.pulls, "no token may be pulled after a failure")
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, []string{"invalid key"}, stats.Failures)
	assert.False(t, stats.Success())
	httpClient.AssertNotCalled(t, "Do", mock.Anything, withKey("NEVER"))
}

func TestRun_InvalidKeyScenario(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, mock.Anything).Return(reply(`{"success":false,"message":"invalid key"}`), nil)

	source := &scriptedSource{name: "lottery", tokens: []models.CdkToken{"K1", "K2"}}
	svc := NewService(httpClient, arbor.NewLogger(), 0)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, 0, stats.Succeeded)
	httpClient.AssertNumberOfCalls(t, "Do", 1)
}

func TestRun_SourceErrorIsNotAFailure(t *testing.T) {
	httpClient := new(MockHTTPClient)
	source := &scriptedSource{name: "fuli", err: errors.New("fuli_cookies not configured")}

	svc := NewService(httpClient, arbor.NewLogger(), 0)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	assert.Equal(t, 0, stats.Attempted)
	assert.True(t, stats.Success())
	assert.Equal(t, []string{"fuli: fuli_cookies not configured"}, stats.SourceErrors)
}

func TestRun_TransportErrorIsFailure(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	source := &scriptedSource{name: "static", tokens: []models.CdkToken{"A", "B"}}
	svc := NewService(httpClient, arbor.NewLogger(), 0)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, []string{"connection reset"}, stats.Failures)
}

func TestRun_IntervalBetweenTopups(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, mock.Anything).Return(reply(`{"success":true}`), nil)

	interval := 150 * time.Millisecond
	source := &scriptedSource{name: "static", tokens: []models.CdkToken{"A", "B", "C"}}
	svc := NewService(httpClient, arbor.NewLogger(), interval)

	start := time.Now()
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})
	elapsed := time.Since(start)

	assert.Equal(t, 3, stats.Succeeded)
	assert.GreaterOrEqual(t, elapsed, 2*interval-20*time.Millisecond)
	assert.Less(t, elapsed, 3*interval)
}

// slowSource takes delay to mint each token, like a wheel spin over the network
type slowSource struct {
	scriptedSource
	delay time.Duration
}

func (s *slowSource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	time.Sleep(s.delay)
	return s.scriptedSource.Next(ctx)
}

func TestRun_IntervalCountsFromEndOfPreviousTopup(t *testing.T) {
	interval := 100 * time.Millisecond
	latency := 60 * time.Millisecond

	var starts, ends []time.Time
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			starts = append(starts, time.Now())
			time.Sleep(latency)
			ends = append(ends, time.Now())
		}).
		Return(reply(`{"success":true}`), nil)

	source := &slowSource{
		scriptedSource: scriptedSource{name: "wheel", tokens: []models.CdkToken{"A", "B"}},
		delay:          latency,
	}
	svc := NewService(httpClient, arbor.NewLogger(), interval)
	stats := svc.Run(context.Background(), testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	require.Equal(t, 2, stats.Succeeded)
	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(ends[0]), interval)
}

func TestRun_CancelledWaitStopsPipeline(t *testing.T) {
	httpClient := new(MockHTTPClient)
	httpClient.On("Do", mock.Anything, mock.Anything).Return(reply(`{"success":true}`), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	source := &scriptedSource{name: "static", tokens: []models.CdkToken{"A", "B"}}
	svc := NewService(httpClient, arbor.NewLogger(), time.Hour)
	stats := svc.Run(ctx, testProvider(), testSession(), &providers.NewAPIClassifier{}, []interfaces.CdkSource{source})

	require.Equal(t, 1, stats.Attempted)
	assert.Len(t, stats.SourceErrors, 1)
}
